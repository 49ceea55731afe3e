package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/selimacar/pushfanout/internal/domain"
	"github.com/selimacar/pushfanout/internal/observability"
	"github.com/selimacar/pushfanout/internal/queue"
	"github.com/selimacar/pushfanout/internal/repository"
	"go.uber.org/zap"
)

// Dispatcher decides at enqueue time whether a notification goes out now or
// later: a strictly future scheduled_at parks it as SCHEDULED for the scanner,
// anything else publishes the fan-out task and flips it to QUEUED.
type Dispatcher struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	now           func() time.Time
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Enqueue dispatches one notification. Re-calling is allowed: a still-future
// scheduled_at re-parks the notification, anything else goes straight to the
// send queue. Publishing before the status flip means a crash in between
// re-delivers the task, which the send path absorbs.
func (d *Dispatcher) Enqueue(ctx context.Context, notificationID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	id := strings.TrimSpace(notificationID)
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	notification, err := d.notifications.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load notification for dispatch: %w", err)
	}

	if notification.ScheduledAt != nil && notification.ScheduledAt.After(d.now().UTC()) {
		updated, err := d.notifications.Transition(ctx, id, domain.StatusScheduled)
		if err != nil {
			return fmt.Errorf("failed to park notification for schedule: %w", err)
		}
		if updated {
			d.logger.Info("notification parked for scheduled dispatch",
				zap.String("notificationId", id),
				zap.Time("scheduledAt", *notification.ScheduledAt),
			)
		} else {
			d.logger.Info("notification already past scheduling",
				zap.String("notificationId", id),
			)
		}
		return nil
	}

	msg := queue.NewSendMessage(id)
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = correlationID
	}

	if err := d.publisher.Publish(ctx, queue.SendQueue, msg); err != nil {
		d.logger.Error("failed to publish send task",
			zap.String("notificationId", id),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish send task: %w", err)
	}

	updated, err := d.notifications.Transition(ctx, id, domain.StatusQueued)
	if err != nil {
		return fmt.Errorf("failed to mark notification as queued: %w", err)
	}
	if !updated {
		d.logger.Info("notification already past queued, send task will no-op",
			zap.String("notificationId", id),
		)
	}

	return nil
}
