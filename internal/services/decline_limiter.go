package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CardDeclineCounter counts a guest's audited card declines
type CardDeclineCounter interface {
	CountCardDeclines(ctx context.Context, userID uuid.UUID, since time.Time) (int, time.Time, error)
}

// DeclineLimitConfig holds the card decline limit
type DeclineLimitConfig struct {
	MaxDeclines int           // Declines allowed per guest inside Window
	Window      time.Duration // Sliding window measured back from now
}

// DefaultDeclineLimitConfig returns the default decline limit
func DefaultDeclineLimitConfig() DeclineLimitConfig {
	return DeclineLimitConfig{
		MaxDeclines: 5,
		Window:      time.Hour,
	}
}

// RateLimitError is returned when a guest has too many recent card declines
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// DeclineLimiter blocks further card attempts from a guest after repeated declines
type DeclineLimiter struct {
	counter CardDeclineCounter
	config  DeclineLimitConfig
	logger  *logrus.Logger
}

// NewDeclineLimiter creates a new DeclineLimiter. A zero MaxDeclines disables it.
func NewDeclineLimiter(counter CardDeclineCounter, config DeclineLimitConfig, logger *logrus.Logger) *DeclineLimiter {
	if config.Window <= 0 {
		config.Window = DefaultDeclineLimitConfig().Window
	}
	return &DeclineLimiter{
		counter: counter,
		config:  config,
		logger:  logger,
	}
}

// Check returns a *RateLimitError when the guest must wait before paying again.
// Audit store failures are logged and do not block payment.
func (l *DeclineLimiter) Check(ctx context.Context, userID uuid.UUID) error {
	if l == nil || l.config.MaxDeclines <= 0 {
		return nil
	}

	count, last, err := l.counter.CountCardDeclines(ctx, userID, time.Now().Add(-l.config.Window))
	if err != nil {
		l.logger.WithError(err).WithField("user_id", userID).Warn("Decline limit check failed, allowing payment")
		return nil
	}

	if count < l.config.MaxDeclines {
		return nil
	}

	retryAfter := last.Add(l.config.Window)
	l.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"declines":    count,
		"retry_after": retryAfter,
	}).Warn("Card payment blocked after repeated declines")

	return &RateLimitError{
		Message:    fmt.Sprintf("Too many declined card attempts. Please try again after %s", retryAfter.UTC().Format("15:04 MST")),
		RetryAfter: retryAfter,
	}
}
