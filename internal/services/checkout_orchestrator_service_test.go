package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hotelease/checkout-backend/internal/database"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/hotelease/checkout-backend/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeBookingClient struct {
	createCalls int32
	getCalls    int32
	cancelCalls int32
	createErr   error
	createGate  chan struct{}
	tokens      []string
	mu          sync.Mutex
}

func (f *fakeBookingClient) CreateBooking(ctx context.Context, _ *models.BookingDraft) (*models.Booking, error) {
	atomic.AddInt32(&f.createCalls, 1)
	f.mu.Lock()
	f.tokens = append(f.tokens, AuthTokenFrom(ctx))
	f.mu.Unlock()
	if f.createGate != nil {
		<-f.createGate
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	return pendingBooking(), nil
}

func (f *fakeBookingClient) GetBooking(context.Context, string) (*models.Booking, error) {
	atomic.AddInt32(&f.getCalls, 1)
	return settledBooking(), nil
}

func (f *fakeBookingClient) CancelBooking(context.Context, string, string) (*models.Booking, error) {
	atomic.AddInt32(&f.cancelCalls, 1)
	return nil, nil
}

func (f *fakeBookingClient) calls() int32 {
	return atomic.LoadInt32(&f.createCalls) + atomic.LoadInt32(&f.getCalls) + atomic.LoadInt32(&f.cancelCalls)
}

type fakePaymentClient struct {
	intentCalls  int
	cardCalls    int
	verifyCalls  int
	confirmCalls int
	intentErr    error
	cardErrs     []error
	cardAction   bool // the bank asks for authentication on every card
	verifyStatus []models.PaymentIntentStatus
	verifyErr    error
	confirmErrs  []error
	confirmBook  *models.Booking
	secrets      []string
}

func (f *fakePaymentClient) CreatePaymentIntent(_ context.Context, bookingID string) (*models.PaymentIntent, error) {
	f.intentCalls++
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	intent := testIntent()
	intent.BookingID = bookingID
	return intent, nil
}

func (f *fakePaymentClient) ConfirmCardPayment(_ context.Context, intent *models.PaymentIntent, _ string) (*models.ProcessorResult, error) {
	f.cardCalls++
	f.secrets = append(f.secrets, intent.ClientSecret)
	if len(f.cardErrs) > 0 {
		err := f.cardErrs[0]
		f.cardErrs = f.cardErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.cardAction {
		return &models.ProcessorResult{PaymentIntentID: intent.ID, Status: models.IntentRequiresAction, Amount: models.MoneyFromFloat(5175), Currency: "ZAR"}, nil
	}
	return &models.ProcessorResult{PaymentIntentID: intent.ID, Status: models.IntentSucceeded, Amount: models.MoneyFromFloat(5175), Currency: "ZAR"}, nil
}

func (f *fakePaymentClient) VerifyCardPayment(_ context.Context, intent *models.PaymentIntent) (*models.ProcessorResult, error) {
	f.verifyCalls++
	f.secrets = append(f.secrets, intent.ClientSecret)
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	status := models.IntentSucceeded
	if len(f.verifyStatus) > 0 {
		status = f.verifyStatus[0]
		f.verifyStatus = f.verifyStatus[1:]
	}
	return &models.ProcessorResult{PaymentIntentID: intent.ID, Status: status, Amount: models.MoneyFromFloat(5175), Currency: "ZAR"}, nil
}

func (f *fakePaymentClient) ConfirmPayment(context.Context, string, string) (*models.Booking, error) {
	f.confirmCalls++
	if len(f.confirmErrs) > 0 {
		err := f.confirmErrs[0]
		f.confirmErrs = f.confirmErrs[1:]
		if err != nil {
			return f.confirmBook, err
		}
	}
	return settledBooking(), nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*models.CheckoutAudit
}

func (f *fakeAudit) Log(_ context.Context, audit *models.CheckoutAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, audit)
	return nil
}

func (f *fakeAudit) count(eventType models.CheckoutEventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// flakySessionStore fails one SaveSession call, counted from when it was installed
type flakySessionStore struct {
	*database.MemorySessionStore
	saves  int
	failAt int
}

func (s *flakySessionStore) SaveSession(ctx context.Context, session *models.CheckoutSession) error {
	s.saves++
	if s.saves == s.failAt {
		return errors.New("redis: connection reset by peer")
	}
	return s.MemorySessionStore.SaveSession(ctx, session)
}

// ============================================================================
// HELPERS
// ============================================================================

type orchestratorFixture struct {
	svc      *CheckoutOrchestratorService
	store    *database.MemorySessionStore
	bookings *fakeBookingClient
	payments *fakePaymentClient
	audit    *fakeAudit
	sleeps   []time.Duration
	userID   uuid.UUID
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		store:    database.NewMemorySessionStore(),
		bookings: &fakeBookingClient{},
		payments: &fakePaymentClient{},
		audit:    &fakeAudit{},
		userID:   uuid.New(),
	}
	f.svc = NewCheckoutOrchestratorService(
		NewPricingService(DefaultTaxRatePercent, "ZAR"),
		f.bookings,
		f.payments,
		f.store,
		f.audit,
		validator.NewStructValidator(),
		DefaultCheckoutOrchestratorConfig(),
		quietLogger(),
	)
	f.svc.sleep = func(_ context.Context, d time.Duration) {
		f.sleeps = append(f.sleeps, d)
	}
	return f
}

func (f *orchestratorFixture) begin(t *testing.T) *models.CheckoutSession {
	t.Helper()
	session, err := f.svc.Begin(context.Background(), f.userID, "token-1",
		models.HotelRef{HotelID: "hotel-1", HotelName: "Cape Grace", NightlyRate: models.MoneyFromFloat(1500)},
		models.ClientInfo{IPAddress: "203.0.113.9", DeviceType: "desktop"})
	require.NoError(t, err)
	return session
}

func (f *orchestratorFixture) dispatch(t *testing.T, id uuid.UUID, ev Event) *models.CheckoutSession {
	t.Helper()
	session, err := f.svc.Dispatch(context.Background(), id, f.userID, ev)
	require.NoError(t, err)
	return session
}

// toGuestDetails fills in a valid draft a week from today and submits it
func (f *orchestratorFixture) toGuestDetails(t *testing.T) *models.CheckoutSession {
	t.Helper()
	session := f.begin(t)
	checkIn := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 7)
	f.dispatch(t, session.ID, Event{Type: EventDraftUpdated, Patch: validPatch(checkIn, 3)})
	session = f.dispatch(t, session.ID, Event{Type: EventSelectionSubmitted})
	require.Equal(t, models.StepGuestDetails, session.Step)
	return session
}

func (f *orchestratorFixture) toPayment(t *testing.T) *models.CheckoutSession {
	t.Helper()
	session := f.toGuestDetails(t)
	session = f.dispatch(t, session.ID, Event{Type: EventGuestDetailsSubmitted, AuthToken: "token-1"})
	require.Equal(t, models.StepPayment, session.Step)
	require.NotNil(t, session.PaymentIntent)
	require.Nil(t, session.Draft, "the booking replaces the draft")
	return session
}

// ============================================================================
// TESTS
// ============================================================================

func TestOrchestrator_BeginValidatesHotel(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.svc.Begin(context.Background(), f.userID, "token-1", models.HotelRef{NightlyRate: models.MoneyFromFloat(100)}, models.ClientInfo{})

	ce, ok := models.AsCheckoutError(err)
	require.True(t, ok)
	assert.Contains(t, ce.Fields, "hotel_id")
}

func TestOrchestrator_BeginDefaultsCurrency(t *testing.T) {
	f := newOrchestratorFixture(t)

	session := f.begin(t)

	assert.Equal(t, "ZAR", session.Draft.Hotel.Currency)
	assert.Equal(t, 1, f.audit.count(models.CheckoutEventSessionStarted))
}

func TestOrchestrator_HappyPath(t *testing.T) {
	f := newOrchestratorFixture(t)
	session := f.toPayment(t)

	confirmed := f.dispatch(t, session.ID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_visa"})

	assert.Equal(t, models.StepConfirmed, confirmed.Step)
	assert.True(t, confirmed.Booking.IsSettled())
	assert.Equal(t, 1, f.payments.intentCalls)
	assert.Equal(t, 1, f.payments.confirmCalls)

	_, err := f.svc.Get(context.Background(), session.ID, f.userID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "confirmed sessions are dropped")

	handoff, err := f.store.GetHandoff(context.Background(), "bk_1")
	require.NoError(t, err)
	assert.Equal(t, "bk_1", handoff.BookingData.ID)
	assert.Equal(t, 1, f.audit.count(models.CheckoutEventBookingConfirmed))
}

func TestOrchestrator_ForwardsGuestToken(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.toPayment(t)

	assert.Equal(t, []string{"token-1"}, f.bookings.tokens)
}

func TestOrchestrator_OtherUsersSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	session := f.begin(t)

	_, err := f.svc.Get(context.Background(), session.ID, uuid.New())
	assert.ErrorIs(t, err, ErrSessionForbidden)

	_, err = f.svc.Get(context.Background(), uuid.New(), f.userID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOrchestrator_CreateBookingFailureCreatesNoIntent(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.bookings.createErr = models.NewCheckoutError(models.ErrorKindServiceUnavailable, "down")
	session := f.toGuestDetails(t)

	failed := f.dispatch(t, session.ID, Event{Type: EventGuestDetailsSubmitted})

	assert.Equal(t, models.StepFailed, failed.Step)
	assert.Equal(t, models.StepGuestDetails, failed.FailedStep)
	assert.Equal(t, 0, f.payments.intentCalls)
}

// Scenario B: the backend rejects the token while creating the booking
func TestOrchestrator_AuthRequiredClearsToken(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.bookings.createErr = models.NewCheckoutError(models.ErrorKindAuthRequired, "Unauthorized")
	session := f.toGuestDetails(t)

	failed := f.dispatch(t, session.ID, Event{Type: EventGuestDetailsSubmitted, AuthToken: "token-1"})

	assert.Equal(t, models.StepFailed, failed.Step)
	assert.Equal(t, models.ErrorKindAuthRequired, failed.LastError.Kind)
	assert.Empty(t, failed.AuthToken)
	assert.Equal(t, 0, f.payments.intentCalls)

	stored, err := f.svc.Get(context.Background(), session.ID, f.userID)
	require.NoError(t, err)
	assert.Empty(t, stored.AuthToken)

	f.bookings.createErr = nil
	retried := f.dispatch(t, session.ID, Event{Type: EventRetry, AuthToken: "token-2"})
	assert.Equal(t, models.StepPayment, retried.Step)
	assert.Equal(t, []string{"token-1", "token-2"}, f.bookings.tokens)
}

// Scenario C: the card is charged but the backend stays unavailable
func TestOrchestrator_ConfirmRetriesThenReconciliation(t *testing.T) {
	f := newOrchestratorFixture(t)
	unavailable := models.NewCheckoutError(models.ErrorKindServiceUnavailable, "down")
	f.payments.confirmErrs = []error{unavailable, unavailable, unavailable, unavailable}
	session := f.toPayment(t)

	failed := f.dispatch(t, session.ID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_visa"})

	assert.Equal(t, models.StepFailed, failed.Step)
	assert.Equal(t, models.ErrorKindReconciliation, failed.LastError.Kind)
	assert.Equal(t, models.ReconciliationMessage, failed.LastError.Message)
	assert.Equal(t, 3, f.payments.confirmCalls, "never a fourth attempt")
	assert.Equal(t, 1, f.payments.intentCalls, "never a second intent")
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, f.sleeps)
	assert.Equal(t, 1, f.audit.count(models.CheckoutEventReconciliationFailed))

	_, err := f.svc.Dispatch(context.Background(), session.ID, f.userID, Event{Type: EventRetry})
	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Equal(t, 1, f.payments.intentCalls)
}

func TestOrchestrator_ConfirmRecoversWithinAttempts(t *testing.T) {
	f := newOrchestratorFixture(t)
	unavailable := models.NewCheckoutError(models.ErrorKindServiceUnavailable, "down")
	f.payments.confirmErrs = []error{unavailable, nil}
	session := f.toPayment(t)

	confirmed := f.dispatch(t, session.ID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_visa"})

	assert.Equal(t, models.StepConfirmed, confirmed.Step)
	assert.Equal(t, 2, f.payments.confirmCalls)
	assert.Equal(t, 1, f.audit.count(models.CheckoutEventConfirmRetry))
}

func TestOrchestrator_MismatchIsNotRetried(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.payments.confirmErrs = []error{models.NewCheckoutError(models.ErrorKindMismatch, "Payment intent does not match booking")}
	session := f.toPayment(t)

	failed := f.dispatch(t, session.ID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_visa"})

	assert.Equal(t, models.ErrorKindMismatch, failed.LastError.Kind)
	assert.Equal(t, 1, f.payments.confirmCalls)
	assert.Empty(t, f.sleeps)
	assert.Equal(t, 1, f.audit.count(models.CheckoutEventIntentMismatch))
}

// confirmPayment idempotence: a second confirmation of a settled booking is success
func TestOrchestrator_AlreadyConfirmedIsSuccess(t *testing.T) {
	tests := []struct {
		name    string
		booking *models.Booking
	}{
		{"backend returns the booking", settledBooking()},
		{"backend returns no booking", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t)
			f.payments.confirmErrs = []error{models.NewCheckoutError(models.ErrorKindAlreadyConfirmed, "Booking already confirmed")}
			f.payments.confirmBook = tt.booking
			session := f.toPayment(t)

			confirmed := f.dispatch(t, session.ID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_visa"})

			assert.Equal(t, models.StepConfirmed, confirmed.Step)
			assert.Equal(t, "bk_1", confirmed.BookingID)
			assert.True(t, confirmed.Booking.IsSettled())
		})
	}
}

func TestOrchestrator_DeclineThenRetryReusesSecret(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.payments.cardErrs = []error{models.NewCardError("card_declined", "Your card was declined.")}
	session := f.toPayment(t)

	declined := f.dispatch(t, session.ID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_chargeDeclined"})
	assert.Equal(t, models.StepPayment, declined.Step)
	assert.Equal(t, "Your card was declined.", declined.LastError.Message)
	assert.False(t, declined.InFlight)

	confirmed := f.dispatch(t, session.ID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_visa"})
	assert.Equal(t, models.StepConfirmed, confirmed.Step)

	assert.Equal(t, []string{"pi_1_secret_abc", "pi_1_secret_abc"}, f.payments.secrets)
	assert.Equal(t, 1, f.payments.intentCalls)
	assert.Equal(t, 2, confirmed.CardAttempts)
}

func TestOrchestrator_ConcurrentSubmitCreatesOneBooking(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.bookings.createGate = make(chan struct{})
	session := f.toGuestDetails(t)

	const submitters = 5
	errs := make(chan error, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Dispatch(context.Background(), session.ID, f.userID, Event{Type: EventGuestDetailsSubmitted})
			errs <- err
		}()
	}

	// Let the losers fail fast before the winner's booking call returns
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&f.bookings.createCalls) == 1 && len(errs) == submitters-1
	}, 2*time.Second, 5*time.Millisecond)
	close(f.bookings.createGate)
	wg.Wait()
	close(errs)

	inFlight := 0
	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrSubmissionInFlight)
			inFlight++
		}
	}
	assert.Equal(t, submitters-1, inFlight)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.bookings.createCalls))
}

// Scenario D: abandoning at payment never touches the booking backend
func TestOrchestrator_AbandonMakesNoBackendCall(t *testing.T) {
	f := newOrchestratorFixture(t)
	session := f.toPayment(t)
	backendCalls := f.bookings.calls()
	paymentCalls := f.payments.intentCalls + f.payments.cardCalls + f.payments.confirmCalls

	require.NoError(t, f.svc.Abandon(context.Background(), session.ID, f.userID))

	assert.Equal(t, backendCalls, f.bookings.calls())
	assert.Equal(t, paymentCalls, f.payments.intentCalls+f.payments.cardCalls+f.payments.confirmCalls)
	_, err := f.svc.Get(context.Background(), session.ID, f.userID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, f.audit.count(models.CheckoutEventAbandoned))
}

func TestOrchestrator_EffectsSurviveCancelledRequest(t *testing.T) {
	f := newOrchestratorFixture(t)
	session := f.toGuestDetails(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.bookings.createGate = make(chan struct{})
	done := make(chan *models.CheckoutSession, 1)
	go func() {
		s, err := f.svc.Dispatch(ctx, session.ID, f.userID, Event{Type: EventGuestDetailsSubmitted})
		assert.NoError(t, err)
		done <- s
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.bookings.createCalls) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(f.bookings.createGate)

	result := <-done
	require.NotNil(t, result)
	assert.Equal(t, models.StepPayment, result.Step)
}

func TestOrchestrator_BackendRejectsDraft(t *testing.T) {
	tests := []struct {
		name string
		ev   EventType
	}{
		{"back", EventBack},
		{"retry", EventRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t)
			f.bookings.createErr = &models.CheckoutError{
				Kind:    models.ErrorKindValidation,
				Message: "Phone number is not valid for this hotel",
				Fields:  map[string]string{"guest_details.phone": "is not accepted by this hotel"},
			}
			session := f.toGuestDetails(t)

			failed := f.dispatch(t, session.ID, Event{Type: EventGuestDetailsSubmitted})
			require.Equal(t, models.StepFailed, failed.Step)
			require.Equal(t, models.StepGuestDetails, failed.FailedStep)

			reopened := f.dispatch(t, session.ID, Event{Type: tt.ev, AuthToken: "token-1"})
			assert.Equal(t, models.StepSelection, reopened.Step)
			assert.Empty(t, reopened.FailedStep)
			assert.Equal(t, "is not accepted by this hotel", reopened.FieldErrors["guest_details.phone"])
			assert.Equal(t, int32(1), atomic.LoadInt32(&f.bookings.createCalls), "the rejected draft is not resent")

			f.bookings.createErr = nil
			phone := "+27 21 555 0100"
			edited := f.dispatch(t, session.ID, Event{Type: EventDraftUpdated, Patch: &models.DraftPatch{
				GuestContact: &models.GuestContact{Name: "Thandi Nkosi", Email: "thandi@example.com", Phone: phone},
			}})
			assert.Empty(t, edited.FieldErrors)
			assert.Equal(t, phone, edited.Draft.GuestContact.Phone)

			f.dispatch(t, session.ID, Event{Type: EventSelectionSubmitted})
			paying := f.dispatch(t, session.ID, Event{Type: EventGuestDetailsSubmitted})
			assert.Equal(t, models.StepPayment, paying.Step)
			assert.Equal(t, int32(2), atomic.LoadInt32(&f.bookings.createCalls))
		})
	}
}

func TestOrchestrator_StoreFailureReleasesSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	session := f.toGuestDetails(t)
	f.svc.store = &flakySessionStore{MemorySessionStore: f.store, failAt: 2}

	_, err := f.svc.Dispatch(context.Background(), session.ID, f.userID, Event{Type: EventGuestDetailsSubmitted})
	require.Error(t, err)

	stored, err := f.svc.Get(context.Background(), session.ID, f.userID)
	require.NoError(t, err)
	assert.False(t, stored.InFlight)
	assert.Equal(t, models.StepFailed, stored.Step)
	assert.Equal(t, models.StepGuestDetails, stored.FailedStep)
	assert.Equal(t, models.ErrorKindServiceUnavailable, stored.LastError.Kind)

	retried := f.dispatch(t, session.ID, Event{Type: EventRetry})
	assert.Equal(t, models.StepPayment, retried.Step)
	assert.False(t, retried.InFlight)
}

func TestOrchestrator_StoreFailureAfterChargeNeedsReconciliation(t *testing.T) {
	f := newOrchestratorFixture(t)
	session := f.toPayment(t)
	f.svc.store = &flakySessionStore{MemorySessionStore: f.store, failAt: 2}

	_, err := f.svc.Dispatch(context.Background(), session.ID, f.userID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_visa"})
	require.Error(t, err)

	stored, err := f.svc.Get(context.Background(), session.ID, f.userID)
	require.NoError(t, err)
	assert.False(t, stored.InFlight)
	assert.Equal(t, models.StepFailed, stored.Step)
	assert.Equal(t, models.ErrorKindReconciliation, stored.LastError.Kind)
	assert.Equal(t, 0, f.payments.confirmCalls)

	_, err = f.svc.Dispatch(context.Background(), session.ID, f.userID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_visa"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Dispatch(context.Background(), session.ID, f.userID, Event{Type: EventRetry})
	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Equal(t, 1, f.payments.cardCalls, "the card is never charged twice")

	require.NoError(t, f.svc.Abandon(context.Background(), session.ID, f.userID))
}

func TestOrchestrator_CardAuthentication(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.payments.cardAction = true
	session := f.toPayment(t)

	held := f.dispatch(t, session.ID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_threeDSecure"})
	assert.Equal(t, models.StepPayment, held.Step)
	assert.False(t, held.InFlight)
	assert.Equal(t, models.IntentRequiresAction, held.PaymentIntent.Status)
	assert.Nil(t, held.LastError)
	assert.Equal(t, 0, f.payments.confirmCalls)
	assert.Equal(t, 1, f.audit.count(models.CheckoutEventCardActionRequired))

	view := held.View()
	require.NotNil(t, view.PaymentAction)
	assert.Equal(t, models.PaymentActionAuthenticate, view.PaymentAction.Type)
	assert.Equal(t, "pi_1_secret_abc", view.PaymentAction.ClientSecret)

	confirmed := f.dispatch(t, session.ID, Event{Type: EventPaymentAuthenticated})
	assert.Equal(t, models.StepConfirmed, confirmed.Step)
	assert.Equal(t, 1, f.payments.verifyCalls)
	assert.Equal(t, 1, f.payments.confirmCalls)
	assert.Equal(t, 1, f.payments.intentCalls, "the intent is reused")
	assert.Equal(t, 1, f.audit.count(models.CheckoutEventCardSucceeded))
}

func TestOrchestrator_CardAuthenticationNotFinished(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.payments.cardAction = true
	f.payments.verifyStatus = []models.PaymentIntentStatus{models.IntentRequiresAction}
	session := f.toPayment(t)

	_, err := f.svc.Dispatch(context.Background(), session.ID, f.userID, Event{Type: EventPaymentAuthenticated})
	assert.ErrorIs(t, err, ErrInvalidTransition, "nothing to authenticate yet")

	f.dispatch(t, session.ID, Event{Type: EventPaymentSubmitted, PaymentMethod: "pm_card_threeDSecure"})
	pending := f.dispatch(t, session.ID, Event{Type: EventPaymentAuthenticated})
	assert.Equal(t, models.StepPayment, pending.Step)
	assert.NotNil(t, pending.View().PaymentAction)
	assert.Equal(t, 0, f.payments.confirmCalls)

	f.payments.verifyErr = models.NewCardError(codeAuthenticationRequired, "Your bank could not authenticate this payment.")
	declined := f.dispatch(t, session.ID, Event{Type: EventPaymentAuthenticated})
	assert.Equal(t, models.StepPayment, declined.Step)
	assert.Equal(t, models.IntentRequiresPaymentMethod, declined.PaymentIntent.Status)
	assert.Nil(t, declined.View().PaymentAction)
	assert.Equal(t, models.ErrorKindCard, declined.LastError.Kind)
}

func TestSessionLocks_ReleaseEntries(t *testing.T) {
	locks := newSessionLocks()
	id := uuid.New()

	unlock := locks.lock(id)
	assert.Len(t, locks.locks, 1)
	unlock()
	assert.Empty(t, locks.locks)
}
