package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/selimacar/pushfanout/internal/domain"
	"github.com/selimacar/pushfanout/internal/repository"
	"go.uber.org/zap"
)

type NotificationService struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	dispatcher    *Dispatcher
	logger        *zap.Logger
	now           func() time.Time
}

// StatusSummary is the aggregate view of a notification and its per-recipient
// delivery outcomes.
type StatusSummary struct {
	Notification domain.Notification
	Total        int
	Counts       []DeliveryStatusCount
}

type DeliveryStatusCount struct {
	Status domain.DeliveryStatus
	Count  int
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	dispatcher *Dispatcher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		deliveries:    deliveries,
		dispatcher:    dispatcher,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Create persists a notification and, when asked, hands it to the dispatcher.
// A future scheduled_at always wins over the enqueue flag: the notification is
// parked as SCHEDULED and the scanner picks it up when due.
func (s *NotificationService) Create(ctx context.Context, notification *domain.Notification, enqueue bool) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.prepareForCreate(notification); err != nil {
		return nil, err
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, err
	}

	if notification.Status == domain.StatusScheduled || !enqueue {
		return notification, nil
	}

	if err := s.dispatcher.Enqueue(ctx, notification.ID); err != nil {
		s.logger.Error("failed to enqueue notification after create",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
		return nil, err
	}
	notification.Status = domain.StatusQueued

	return notification, nil
}

func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, strings.TrimSpace(id))
}

// GetStatus returns the notification together with delivery counts grouped by
// outcome, the operator-facing progress view.
func (s *NotificationService) GetStatus(ctx context.Context, id string) (*StatusSummary, error) {
	notification, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	statusCounts, err := s.deliveries.CountByStatus(ctx, notification.ID)
	if err != nil {
		return nil, err
	}

	total := 0
	counts := make([]DeliveryStatusCount, 0, len(statusCounts))
	for _, row := range statusCounts {
		total += row.Count
		counts = append(counts, DeliveryStatusCount{
			Status: row.Status,
			Count:  row.Count,
		})
	}

	return &StatusSummary{
		Notification: *notification,
		Total:        total,
		Counts:       counts,
	}, nil
}

func (s *NotificationService) List(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

func (s *NotificationService) prepareForCreate(n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.Title = strings.TrimSpace(n.Title)
	n.Body = strings.TrimSpace(n.Body)

	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	n.Status = domain.StatusDraft
	if n.ScheduledAt != nil && n.ScheduledAt.After(s.now().UTC()) {
		n.Status = domain.StatusScheduled
	}
	n.SentAt = nil

	return n.Validate()
}
