package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/selimacar/pushfanout/internal/domain"
	"github.com/selimacar/pushfanout/internal/expo"
	"github.com/selimacar/pushfanout/internal/observability"
	"github.com/selimacar/pushfanout/internal/ratelimit"
	"github.com/selimacar/pushfanout/internal/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	// defaultSound makes notifications audible on iOS, matching gateway defaults.
	defaultSound = "default"

	rateLimitOperationSend = "send"
)

// Sender fans one notification out to every active token: it claims the
// notification, materializes the delivery ledger, submits gateway batches, and
// settles the notification's send-phase status from the ticket outcomes.
type Sender struct {
	notifications repository.NotificationRepository
	tokens        repository.TokenRepository
	deliveries    repository.DeliveryRepository
	gateway       expo.Gateway
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	batchSize     int
	now           func() time.Time
}

func NewSender(
	notifications repository.NotificationRepository,
	tokens repository.TokenRepository,
	deliveries repository.DeliveryRepository,
	gateway expo.Gateway,
	rateLimiter ratelimit.RateLimiter,
	batchSize int,
	logger *zap.Logger,
) (*Sender, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if batchSize <= 0 || batchSize > expo.MaxBatchSize {
		batchSize = expo.MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sender{
		notifications: notifications,
		tokens:        tokens,
		deliveries:    deliveries,
		gateway:       gateway,
		rateLimiter:   rateLimiter,
		logger:        logger,
		batchSize:     batchSize,
		now:           time.Now,
	}, nil
}

func (s *Sender) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Send executes the fan-out for one notification. It is safe to call
// repeatedly for the same id: the status guard filters calls that arrive after
// the notification settled, and the ledger upsert makes every re-run converge
// on the same per-token rows, skipping recipients already confirmed. SENDING
// re-claims SENDING, so idempotency rests on the ledger, not the guard.
func (s *Sender) Send(ctx context.Context, notificationID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	id := strings.TrimSpace(notificationID)
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(s.logger, ctx)

	claimed, err := s.notifications.MarkSending(ctx, id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to claim notification for sending: %w", err)
	}
	if !claimed {
		logger.Info("notification not claimable for sending, skipping",
			zap.String("notificationId", id),
		)
		return nil
	}

	notification, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("notification disappeared after claim, skipping",
				zap.String("notificationId", id),
			)
			return nil
		}
		return fmt.Errorf("failed to load notification: %w", err)
	}

	activeTokens, err := s.tokens.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active tokens: %w", err)
	}
	if len(activeTokens) == 0 {
		logger.Warn("no active tokens, marking notification as failed",
			zap.String("notificationId", id),
		)
		return s.settle(ctx, id, domain.StatusFailed)
	}

	tokenValues := make(map[string]string, len(activeTokens))
	tokenIDs := make([]string, 0, len(activeTokens))
	for i := range activeTokens {
		tokenIDs = append(tokenIDs, activeTokens[i].ID)
		tokenValues[activeTokens[i].ID] = activeTokens[i].Value
	}

	deliveries, err := s.deliveries.UpsertPending(ctx, id, tokenIDs)
	if err != nil {
		return fmt.Errorf("failed to upsert delivery ledger: %w", err)
	}

	// Rows already confirmed by a receipt survive the upsert untouched and
	// must not be sent again.
	pending := make([]domain.Delivery, 0, len(deliveries))
	for i := range deliveries {
		if deliveries[i].Status == domain.DeliveryPendingSend {
			pending = append(pending, deliveries[i])
		}
	}
	if len(pending) == 0 {
		logger.Info("every delivery already confirmed, marking notification as sent",
			zap.String("notificationId", id),
		)
		return s.settle(ctx, id, domain.StatusSent)
	}

	anyBatchFailed := false
	anyTicketError := false

	for start := 0; start < len(pending); start += s.batchSize {
		end := min(start+s.batchSize, len(pending))
		batch := pending[start:end]

		batchFailed, ticketErrors, err := s.sendBatch(ctx, logger, notification, batch, tokenValues)
		if err != nil {
			return err
		}
		anyBatchFailed = anyBatchFailed || batchFailed
		anyTicketError = anyTicketError || ticketErrors
	}

	final := domain.StatusSent
	switch {
	case anyBatchFailed:
		final = domain.StatusFailed
	case anyTicketError:
		final = domain.StatusCompletedWithErrors
	}

	return s.settle(ctx, id, final)
}

// sendBatch submits one gateway batch and records the per-delivery outcome.
// It returns whether the whole batch call failed and whether any individual
// ticket carried an error. Only database errors abort the send.
func (s *Sender) sendBatch(
	ctx context.Context,
	logger *zap.Logger,
	notification *domain.Notification,
	batch []domain.Delivery,
	tokenValues map[string]string,
) (bool, bool, error) {
	messages := make([]expo.PushMessage, 0, len(batch))
	for i := range batch {
		messages = append(messages, expo.PushMessage{
			To:    tokenValues[batch[i].TokenID],
			Title: notification.Title,
			Body:  notification.Body,
			Data:  notification.Data,
			Sound: defaultSound,
		})
	}

	if err := s.rateLimiter.Wait(ctx, rateLimitOperationSend); err != nil {
		return false, false, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	callStart := s.now()
	tickets, sendErr := s.gateway.SendMessages(ctx, messages)
	if s.metrics != nil {
		s.metrics.ObserveGatewayBatchDuration(rateLimitOperationSend, s.now().Sub(callStart))
	}

	if sendErr != nil {
		if s.metrics != nil {
			s.metrics.IncGatewayBatch(rateLimitOperationSend, "failure")
		}
		logger.Error("gateway batch send failed",
			zap.String("notificationId", notification.ID),
			zap.Int("batchSize", len(batch)),
			zap.Error(sendErr),
		)

		ids := make([]string, 0, len(batch))
		for i := range batch {
			ids = append(ids, batch[i].ID)
		}
		details := gatewayFailureDetails(sendErr)
		if _, err := s.deliveries.MarkSendError(ctx, ids, details); err != nil {
			return false, false, fmt.Errorf("failed to record batch send failure: %w", err)
		}
		if s.metrics != nil {
			for range batch {
				s.metrics.IncDeliveryOutcome(domain.DeliveryExpoError.String())
			}
		}
		return true, false, nil
	}

	if s.metrics != nil {
		s.metrics.IncGatewayBatch(rateLimitOperationSend, "success")
	}

	anyTicketError := false
	for i := range batch {
		ticket := tickets[i]
		delivery := batch[i]

		if ticket.OK() && strings.TrimSpace(ticket.ID) != "" {
			if err := s.deliveries.MarkSent(ctx, delivery.ID, ticket.ID); err != nil {
				return false, anyTicketError, fmt.Errorf("failed to mark delivery as sent: %w", err)
			}
			if s.metrics != nil {
				s.metrics.IncDeliveryOutcome(domain.DeliverySentToExpo.String())
			}
			continue
		}

		anyTicketError = true
		details := ticketErrorDetails(ticket)
		if _, err := s.deliveries.MarkSendError(ctx, []string{delivery.ID}, details); err != nil {
			return false, anyTicketError, fmt.Errorf("failed to record ticket error: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncDeliveryOutcome(domain.DeliveryExpoError.String())
		}
	}

	return false, anyTicketError, nil
}

func (s *Sender) settle(ctx context.Context, notificationID string, final domain.Status) error {
	updated, err := s.notifications.Transition(ctx, notificationID, final)
	if err != nil {
		return fmt.Errorf("failed to settle notification status: %w", err)
	}
	if !updated {
		s.logger.Info("notification status changed before settle",
			zap.String("notificationId", notificationID),
			zap.String("status", final.String()),
		)
		return nil
	}
	if s.metrics != nil {
		s.metrics.IncNotificationStatus(final.String())
	}
	return nil
}

func gatewayFailureDetails(err error) datatypes.JSON {
	payload := map[string]any{
		"error": err.Error(),
		"kind":  string(expo.ClassifyFailure(err)),
	}
	raw, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func ticketErrorDetails(ticket expo.PushTicket) datatypes.JSON {
	payload := map[string]any{
		"status":  ticket.Status,
		"message": ticket.Message,
	}
	if ticket.OK() && strings.TrimSpace(ticket.ID) == "" {
		payload["message"] = "gateway returned an ok ticket without an id"
	}
	if len(ticket.Details) > 0 {
		payload["details"] = ticket.Details
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
