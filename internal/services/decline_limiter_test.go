package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDeclineCounter struct {
	count int
	last  time.Time
	err   error
	since time.Time
}

func (s *stubDeclineCounter) CountCardDeclines(_ context.Context, _ uuid.UUID, since time.Time) (int, time.Time, error) {
	s.since = since
	return s.count, s.last, s.err
}

func TestDeclineLimiter_UnderLimit(t *testing.T) {
	counter := &stubDeclineCounter{count: 4, last: time.Now()}
	limiter := NewDeclineLimiter(counter, DeclineLimitConfig{MaxDeclines: 5, Window: time.Hour}, logrus.New())

	assert.NoError(t, limiter.Check(context.Background(), uuid.New()))
	assert.WithinDuration(t, time.Now().Add(-time.Hour), counter.since, 5*time.Second)
}

func TestDeclineLimiter_Exceeded(t *testing.T) {
	last := time.Now().Add(-10 * time.Minute)
	counter := &stubDeclineCounter{count: 5, last: last}
	limiter := NewDeclineLimiter(counter, DeclineLimitConfig{MaxDeclines: 5, Window: time.Hour}, logrus.New())

	err := limiter.Check(context.Background(), uuid.New())
	require.Error(t, err)

	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, last.Add(time.Hour), rateErr.RetryAfter)
	assert.Contains(t, rateErr.Message, "Too many declined card attempts")
}

func TestDeclineLimiter_StoreErrorAllowsPayment(t *testing.T) {
	counter := &stubDeclineCounter{err: errors.New("connection refused")}
	limiter := NewDeclineLimiter(counter, DefaultDeclineLimitConfig(), logrus.New())

	assert.NoError(t, limiter.Check(context.Background(), uuid.New()))
}

func TestDeclineLimiter_Disabled(t *testing.T) {
	counter := &stubDeclineCounter{count: 100, last: time.Now()}
	limiter := NewDeclineLimiter(counter, DeclineLimitConfig{MaxDeclines: 0}, logrus.New())
	assert.NoError(t, limiter.Check(context.Background(), uuid.New()))

	var nilLimiter *DeclineLimiter
	assert.NoError(t, nilLimiter.Check(context.Background(), uuid.New()))
}
