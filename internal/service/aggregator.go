package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/selimacar/pushfanout/internal/domain"
	"github.com/selimacar/pushfanout/internal/observability"
	"github.com/selimacar/pushfanout/internal/repository"
	"go.uber.org/zap"
)

// StatusAggregator folds per-delivery outcomes back into the notification
// status once the receipt phase stops producing new information.
type StatusAggregator struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
}

func NewStatusAggregator(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	logger *zap.Logger,
) (*StatusAggregator, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusAggregator{
		notifications: notifications,
		deliveries:    deliveries,
		logger:        logger,
	}, nil
}

func (a *StatusAggregator) SetMetrics(metrics *observability.Metrics) {
	if a == nil {
		return
	}
	a.metrics = metrics
}

// Recompute settles the notification once no delivery is in flight anymore:
// all confirmed means COMPLETED_SUCCESS, anything else means
// COMPLETED_WITH_ERRORS. While work remains it does nothing, so calling it
// after every receipt batch is cheap and safe.
func (a *StatusAggregator) Recompute(ctx context.Context, notificationID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	id := strings.TrimSpace(notificationID)
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	counts, err := a.deliveries.CountByStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count deliveries: %w", err)
	}
	if len(counts) == 0 {
		return nil
	}

	allConfirmed := true
	for _, row := range counts {
		if row.Status.InFlight() {
			return nil
		}
		if row.Status != domain.DeliveryReceiptOK {
			allConfirmed = false
		}
	}

	final := domain.StatusCompletedWithErrors
	if allConfirmed {
		final = domain.StatusCompletedSuccess
	}

	updated, err := a.notifications.Transition(ctx, id, final)
	if err != nil {
		return fmt.Errorf("failed to update aggregate status: %w", err)
	}
	if !updated {
		return nil
	}

	a.logger.Info("notification aggregate settled",
		zap.String("notificationId", id),
		zap.String("status", final.String()),
	)
	if a.metrics != nil {
		a.metrics.IncNotificationStatus(final.String())
	}

	return nil
}
