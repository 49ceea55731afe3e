package service

import (
	"context"
	"fmt"
	"time"

	"github.com/selimacar/pushfanout/internal/domain"
	"github.com/selimacar/pushfanout/internal/queue"
	"github.com/selimacar/pushfanout/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultScheduleScanInterval = 5 * time.Second
	defaultScheduleScanLimit    = 100
)

// ScheduleScanner periodically enqueues scheduled notifications that came due.
type ScheduleScanner struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	interval      time.Duration
	limit         int
	now           func() time.Time
}

func NewScheduleScanner(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*ScheduleScanner, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultScheduleScanInterval
	}
	if limit <= 0 {
		limit = defaultScheduleScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ScheduleScanner{
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		now:           time.Now,
	}, nil
}

func (s *ScheduleScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due notifications do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("schedule scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("schedule scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *ScheduleScanner) scanDue(ctx context.Context) error {
	dueNotifications, err := s.notifications.GetDueForSchedule(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled notifications: %w", err)
	}

	for i := range dueNotifications {
		notification := dueNotifications[i]

		msg := queue.NewSendMessage(notification.ID)
		if err := s.publisher.Publish(ctx, queue.SendQueue, msg); err != nil {
			s.logger.Error("failed to enqueue scheduled notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}

		updated, err := s.notifications.Transition(ctx, notification.ID, domain.StatusQueued)
		if err != nil {
			s.logger.Error("failed to mark scheduled notification as queued",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}
		if !updated {
			s.logger.Info("scheduled notification status changed before queue mark",
				zap.String("notificationId", notification.ID),
			)
		}
	}

	return nil
}
