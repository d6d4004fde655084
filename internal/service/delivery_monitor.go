package service

import (
	"context"
	"time"

	"msgflow/internal/metrics"

	"github.com/sirupsen/logrus"
)

type StaleMessageStore interface {
	GetStaleMessageCount(ctx context.Context, threshold time.Duration) (int, error)
	ReleaseStaleSending(ctx context.Context, threshold time.Duration) (int64, error)
}

// DeliveryMonitor watches for messages stuck past the stale threshold.
// Messages that reached sent but never got a delivery confirmation are
// counted and alerted on; reconciliation stays with the webhook path.
// Messages stranded in sending by a crash have no provider id and no
// webhook coming, so those go back into the queue.
type DeliveryMonitor struct {
	db             StaleMessageStore
	staleThreshold time.Duration
	logger         *logrus.Logger
}

func NewDeliveryMonitor(db StaleMessageStore, staleThreshold time.Duration, logger *logrus.Logger) *DeliveryMonitor {
	return &DeliveryMonitor{
		db:             db,
		staleThreshold: staleThreshold,
		logger:         logger,
	}
}

// Check publishes the stale sent gauge and releases crash-stranded sending
// rows. Run from a scheduler tick.
func (m *DeliveryMonitor) Check(ctx context.Context) {
	count, err := m.db.GetStaleMessageCount(ctx, m.staleThreshold)
	if err != nil {
		m.logger.WithError(err).Error("Failed to check for stale messages")
	} else {
		metrics.SetGauge(metrics.MetricStaleMessages, float64(count), nil, "Messages stuck in sent status")
		if count > 0 {
			m.logger.WithFields(logrus.Fields{
				"stale_count": count,
				"threshold":   m.staleThreshold,
			}).Warn("Messages stuck in 'sent' status without delivery confirmation")
		}
	}

	released, err := m.db.ReleaseStaleSending(ctx, m.staleThreshold)
	if err != nil {
		m.logger.WithError(err).Error("Failed to release stale sending messages")
		return
	}
	if released > 0 {
		metrics.AddToCounter(metrics.MetricSendingReleased, float64(released), nil, "Messages returned to pending after a stalled claim")
		m.logger.WithFields(logrus.Fields{
			"released":  released,
			"threshold": m.staleThreshold,
		}).Warn("Returned stalled sending messages to the queue")
	}
}
