package service

import (
	"context"
	"time"

	"msgflow/internal/models"
	"msgflow/internal/retry"

	"github.com/sirupsen/logrus"
)

// RetryStore is the slice of the store the retry controller needs.
type RetryStore interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ScheduleMessageRetry(ctx context.Context, id string, newRetryCount int, scheduledAt time.Time) (bool, error)
}

// RetryResult reports the outcome of a retry request. A declined result is
// not an error: asking to retry an exhausted message is a no-op. Exhausted
// marks declines where the budget ran out, so callers can pin the message's
// final state.
type RetryResult struct {
	Scheduled   bool
	Exhausted   bool
	Attempt     int
	ScheduledAt time.Time
	Reason      string
}

// RetryController decides whether a failed message goes back into the queue
// and with what delay.
type RetryController struct {
	store            RetryStore
	maxRetryAttempts int
	baseInterval     time.Duration
	logger           *logrus.Logger
}

func NewRetryController(store RetryStore, maxRetryAttempts int, baseInterval time.Duration, logger *logrus.Logger) *RetryController {
	return &RetryController{
		store:            store,
		maxRetryAttempts: maxRetryAttempts,
		baseInterval:     baseInterval,
		logger:           logger,
	}
}

// Schedule moves an eligible failed message back to pending with an
// exponential backoff delay: base * 2^(attempt-1). The underlying update is
// optimistic, so two sweeps racing over the same message schedule exactly
// one retry.
func (rc *RetryController) Schedule(ctx context.Context, msg *models.Message) (RetryResult, error) {
	if msg.Status != models.StatusFailed {
		return RetryResult{Reason: "message is not in failed state"}, nil
	}
	if !msg.CanRetry(rc.maxRetryAttempts) {
		return RetryResult{Exhausted: true, Reason: "retry attempts exhausted"}, nil
	}

	attempt := msg.RetryCount + 1
	delay := retry.DelayForAttempt(rc.baseInterval, attempt)
	scheduledAt := time.Now().UTC().Add(delay)

	applied, err := rc.store.ScheduleMessageRetry(ctx, msg.ID, attempt, scheduledAt)
	if err != nil {
		return RetryResult{}, err
	}
	if !applied {
		return RetryResult{Reason: "message state changed concurrently"}, nil
	}

	rc.logger.WithFields(logrus.Fields{
		"messageId":   msg.ID,
		"attempt":     attempt,
		"delay":       delay,
		"scheduledAt": scheduledAt,
	}).Info("Scheduled message retry")

	return RetryResult{
		Scheduled:   true,
		Attempt:     attempt,
		ScheduledAt: scheduledAt,
	}, nil
}

// ScheduleByID is the operator-facing retry path.
func (rc *RetryController) ScheduleByID(ctx context.Context, id string) (RetryResult, error) {
	msg, err := rc.store.GetMessage(ctx, id)
	if err != nil {
		return RetryResult{}, err
	}
	if msg == nil {
		return RetryResult{Reason: "message not found"}, nil
	}
	return rc.Schedule(ctx, msg)
}
