package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hotelease/checkout-backend/internal/database"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBookings struct {
	booking     *models.Booking
	getErr      error
	cancelCalls int
}

func (s *stubBookings) CreateBooking(context.Context, *models.BookingDraft) (*models.Booking, error) {
	return nil, nil
}

func (s *stubBookings) GetBooking(context.Context, string) (*models.Booking, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.booking, nil
}

func (s *stubBookings) CancelBooking(_ context.Context, bookingID, _ string) (*models.Booking, error) {
	s.cancelCalls++
	b := *s.booking
	b.ID = bookingID
	b.BookingStatus = models.BookingStatusCancelled
	return &b, nil
}

func TestPresent_FromServer(t *testing.T) {
	svc := NewConfirmationService(&stubBookings{booking: settledBooking()}, database.NewMemorySessionStore(), quietLogger())

	view, err := svc.Present(context.Background(), "bk_1", nil)
	require.NoError(t, err)

	assert.Equal(t, ConfirmationFromServer, view.Source)
	assert.Equal(t, 3, view.Nights)
	require.Len(t, view.Actions, 3)
	assert.Equal(t, "/api/v1/bookings/bk_1/print", view.Actions[0].Href)
}

func TestPresent_FallsBackToHandoff(t *testing.T) {
	unavailable := models.NewCheckoutError(models.ErrorKindServiceUnavailable, "down")
	svc := NewConfirmationService(&stubBookings{getErr: unavailable}, database.NewMemorySessionStore(), quietLogger())

	handoff := &models.NavigationHandoff{BookingID: "bk_1", BookingData: settledBooking()}
	view, err := svc.Present(context.Background(), "bk_1", handoff)
	require.NoError(t, err)
	assert.Equal(t, ConfirmationFromHandoff, view.Source)

	_, err = svc.Present(context.Background(), "bk_2", handoff)
	assert.True(t, models.IsKind(err, models.ErrorKindServiceUnavailable), "hand-off for another booking is ignored")

	_, err = svc.Present(context.Background(), "bk_1", nil)
	assert.True(t, models.IsKind(err, models.ErrorKindServiceUnavailable))
}

func TestConfirmation_OnlyOwnHandoff(t *testing.T) {
	store := database.NewMemorySessionStore()
	owner := uuid.New()
	require.NoError(t, store.SaveHandoff(context.Background(), &models.NavigationHandoff{
		BookingID:   "bk_1",
		UserID:      owner,
		BookingData: settledBooking(),
	}, time.Minute))

	svc := NewConfirmationService(&stubBookings{getErr: models.NewCheckoutError(models.ErrorKindNotFound, "not found")}, store, quietLogger())

	view, err := svc.Confirmation(context.Background(), owner, "bk_1")
	require.NoError(t, err)
	assert.Equal(t, ConfirmationFromHandoff, view.Source)

	_, err = svc.Confirmation(context.Background(), uuid.New(), "bk_1")
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name      string
		status    models.BookingStatus
		payment   models.PaymentStatus
		wantErr   models.ErrorKind
		wantCalls int
	}{
		{"pending", models.BookingStatusPending, models.PaymentStatusPending, "", 1},
		{"confirmed", models.BookingStatusConfirmed, models.PaymentStatusPaid, "", 1},
		{"completed", models.BookingStatusCompleted, models.PaymentStatusPaid, models.ErrorKindInvalidState, 0},
		{"already cancelled", models.BookingStatusCancelled, models.PaymentStatusRefunded, models.ErrorKindInvalidState, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			booking := pendingBooking()
			booking.BookingStatus = tt.status
			booking.PaymentStatus = tt.payment
			stub := &stubBookings{booking: booking}
			svc := NewConfirmationService(stub, database.NewMemorySessionStore(), quietLogger())

			cancelled, err := svc.Cancel(context.Background(), "bk_1", "change of plans")

			assert.Equal(t, tt.wantCalls, stub.cancelCalls)
			if tt.wantErr != "" {
				assert.True(t, models.IsKind(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.BookingStatusCancelled, cancelled.BookingStatus)
		})
	}
}

func TestRenderReceipt(t *testing.T) {
	booking := settledBooking()
	booking.HotelName = "Cape Grace"
	booking.GuestContact = &models.GuestContact{Name: "Thandi Nkosi", Email: "thandi@example.com", Phone: "+27821234567"}

	receipt, err := RenderReceipt(newConfirmationView(booking, ConfirmationFromServer))
	require.NoError(t, err)

	assert.Contains(t, receipt, "Booking reference: bk_1")
	assert.Contains(t, receipt, "Cape Grace")
	assert.Contains(t, receipt, "Sun, 01 Jun 2025")
	assert.Contains(t, receipt, "Nights:            3")
	assert.Contains(t, receipt, "ZAR 5175.00")
	assert.Contains(t, receipt, "Thandi Nkosi")
	assert.Contains(t, receipt, "Payment status:    paid")
}
