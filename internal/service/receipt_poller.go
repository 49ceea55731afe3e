package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/selimacar/pushfanout/internal/domain"
	"github.com/selimacar/pushfanout/internal/expo"
	"github.com/selimacar/pushfanout/internal/observability"
	"github.com/selimacar/pushfanout/internal/queue"
	"github.com/selimacar/pushfanout/internal/ratelimit"
	"github.com/selimacar/pushfanout/internal/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	defaultReceiptGracePeriod  = 5 * time.Minute
	defaultReceiptMaxAge       = 7 * 24 * time.Hour
	defaultReceiptPollInterval = time.Minute
	defaultReceiptScanLimit    = 1000

	rateLimitOperationReceipts = "receipts"

	receiptOutcomeOK      = "ok"
	receiptOutcomeError   = "error"
	receiptOutcomePending = "pending"
	receiptOutcomeUnknown = "unknown_error"
)

// ReceiptPoller drives the second delivery phase: it scans the ledger for
// tickets old enough to have a receipt, fans the lookups out through the work
// queue, and resolves each delivery from the gateway's verdict.
type ReceiptPoller struct {
	deliveries  repository.DeliveryRepository
	tokens      repository.TokenRepository
	aggregator  *StatusAggregator
	publisher   queue.Publisher
	gateway     expo.Gateway
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics

	gracePeriod  time.Duration
	maxAge       time.Duration
	pollInterval time.Duration
	scanLimit    int
	batchSize    int
	now          func() time.Time
}

type ReceiptPollerConfig struct {
	// GracePeriod is how long after a send the gateway gets to produce the
	// receipt before the poller starts asking for it.
	GracePeriod time.Duration
	// MaxAge bounds how long a ticket stays pollable; older tickets are
	// abandoned where they stand.
	MaxAge       time.Duration
	PollInterval time.Duration
	ScanLimit    int
	BatchSize    int
}

func NewReceiptPoller(
	deliveries repository.DeliveryRepository,
	tokens repository.TokenRepository,
	aggregator *StatusAggregator,
	publisher queue.Publisher,
	gateway expo.Gateway,
	rateLimiter ratelimit.RateLimiter,
	cfg ReceiptPollerConfig,
	logger *zap.Logger,
) (*ReceiptPoller, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token repository is required")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultReceiptGracePeriod
	}
	if cfg.MaxAge <= cfg.GracePeriod {
		cfg.MaxAge = defaultReceiptMaxAge
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultReceiptPollInterval
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaultReceiptScanLimit
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > expo.MaxBatchSize {
		cfg.BatchSize = expo.MaxBatchSize
	}

	return &ReceiptPoller{
		deliveries:   deliveries,
		tokens:       tokens,
		aggregator:   aggregator,
		publisher:    publisher,
		gateway:      gateway,
		rateLimiter:  rateLimiter,
		logger:       logger,
		gracePeriod:  cfg.GracePeriod,
		maxAge:       cfg.MaxAge,
		pollInterval: cfg.PollInterval,
		scanLimit:    cfg.ScanLimit,
		batchSize:    cfg.BatchSize,
		now:          time.Now,
	}, nil
}

func (p *ReceiptPoller) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

func (p *ReceiptPoller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("receipt poller initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("receipt poller scan failed", zap.Error(err))
			}
		}
	}
}

// Poll finds deliveries whose receipts are due and publishes one lookup task
// per gateway-sized batch.
func (p *ReceiptPoller) Poll(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := p.now().UTC()
	oldest := now.Add(-p.maxAge)
	latest := now.Add(-p.gracePeriod)

	due, err := p.deliveries.FindDueReceiptChecks(ctx, oldest, latest, p.scanLimit)
	if err != nil {
		return fmt.Errorf("failed to find due receipt checks: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	published := 0
	for start := 0; start < len(due); start += p.batchSize {
		end := min(start+p.batchSize, len(due))

		msg := queue.NewReceiptCheckMessage(due[start:end])
		if err := p.publisher.Publish(ctx, queue.ReceiptQueue, msg); err != nil {
			p.logger.Error("failed to publish receipt check task",
				zap.Int("batchSize", end-start),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	p.logger.Info("receipt checks scheduled",
		zap.Int("deliveries", len(due)),
		zap.Int("batches", published),
	)

	return nil
}

// CheckBatch resolves receipts for one batch of delivery ids. A gateway
// failure is returned as-is so the queue redelivers the batch; absent receipts
// are marked pending and picked up by a later poll.
func (p *ReceiptPoller) CheckBatch(ctx context.Context, deliveryIDs []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(deliveryIDs) == 0 {
		return nil
	}

	deliveries, err := p.deliveries.GetByIDs(ctx, deliveryIDs)
	if err != nil {
		return fmt.Errorf("failed to load deliveries: %w", err)
	}

	// A delivery may have been resolved between poll and consume; only rows
	// still holding an unresolved ticket participate.
	byTicket := make(map[string]domain.Delivery, len(deliveries))
	ticketIDs := make([]string, 0, len(deliveries))
	for i := range deliveries {
		delivery := deliveries[i]
		if delivery.PushTicketID == nil || *delivery.PushTicketID == "" {
			continue
		}
		if !delivery.Status.InFlight() || delivery.ReceiptCheckedAt != nil {
			continue
		}
		byTicket[*delivery.PushTicketID] = delivery
		ticketIDs = append(ticketIDs, *delivery.PushTicketID)
	}
	if len(ticketIDs) == 0 {
		return nil
	}

	if err := p.rateLimiter.Wait(ctx, rateLimitOperationReceipts); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	callStart := p.now()
	receipts, err := p.gateway.GetReceipts(ctx, ticketIDs)
	if p.metrics != nil {
		p.metrics.ObserveGatewayBatchDuration(rateLimitOperationReceipts, p.now().Sub(callStart))
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncGatewayBatch(rateLimitOperationReceipts, "failure")
		}
		return fmt.Errorf("failed to fetch receipts: %w", err)
	}
	if p.metrics != nil {
		p.metrics.IncGatewayBatch(rateLimitOperationReceipts, "success")
	}

	checkedAt := p.now().UTC()
	notificationIDs := make(map[string]struct{})
	var stillPending []string

	for ticketID, delivery := range byTicket {
		receipt, found := receipts[ticketID]
		if !found {
			stillPending = append(stillPending, delivery.ID)
			if p.metrics != nil {
				p.metrics.IncReceiptCheck(receiptOutcomePending)
			}
			continue
		}

		if err := p.resolveReceipt(ctx, delivery, receipt, checkedAt); err != nil {
			return err
		}
		notificationIDs[delivery.NotificationID] = struct{}{}
	}

	for ticketID := range receipts {
		if _, known := byTicket[ticketID]; !known {
			p.logger.Warn("ignoring receipt for unknown ticket",
				zap.String("ticketId", ticketID),
			)
		}
	}

	if len(stillPending) > 0 {
		if _, err := p.deliveries.MarkReceiptPending(ctx, stillPending); err != nil {
			return fmt.Errorf("failed to mark deliveries receipt-pending: %w", err)
		}
	}

	for notificationID := range notificationIDs {
		if err := p.aggregator.Recompute(ctx, notificationID); err != nil {
			p.logger.Error("failed to recompute aggregate after receipts",
				zap.String("notificationId", notificationID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (p *ReceiptPoller) resolveReceipt(
	ctx context.Context,
	delivery domain.Delivery,
	receipt expo.PushReceipt,
	checkedAt time.Time,
) error {
	if receipt.OK() {
		receiptStatus := receiptOutcomeOK
		err := p.deliveries.RecordReceipt(ctx, delivery.ID, domain.DeliveryReceiptOK, &receiptStatus, receiptDetails(receipt), checkedAt)
		if err != nil {
			return fmt.Errorf("failed to record ok receipt: %w", err)
		}
		if p.metrics != nil {
			p.metrics.IncReceiptCheck(receiptOutcomeOK)
			p.metrics.IncDeliveryOutcome(domain.DeliveryReceiptOK.String())
		}
		return nil
	}

	// The stored status carries the gateway's error code so operators can tell
	// DeviceNotRegistered from MessageRateExceeded without opening the details.
	receiptStatus := receipt.ErrorCode()
	if receiptStatus == "" {
		receiptStatus = receiptOutcomeUnknown
	}
	details := receiptDetails(receipt)
	err := p.deliveries.RecordReceipt(ctx, delivery.ID, domain.DeliveryReceiptError, &receiptStatus, details, checkedAt)
	if err != nil {
		return fmt.Errorf("failed to record error receipt: %w", err)
	}
	if p.metrics != nil {
		p.metrics.IncReceiptCheck(receiptOutcomeError)
		p.metrics.IncDeliveryOutcome(domain.DeliveryReceiptError.String())
	}

	if receipt.IsDeviceNotRegistered() {
		deactivated, err := p.tokens.Deactivate(ctx, delivery.TokenID)
		if err != nil {
			return fmt.Errorf("failed to deactivate token: %w", err)
		}
		if deactivated {
			p.logger.Info("token deactivated after gateway rejection",
				zap.String("tokenId", delivery.TokenID),
				zap.String("deliveryId", delivery.ID),
			)
			if p.metrics != nil {
				p.metrics.IncTokenDeactivated()
			}
		}
	}

	return nil
}

func receiptDetails(receipt expo.PushReceipt) datatypes.JSON {
	payload := map[string]any{
		"status":  receipt.Status,
		"message": receipt.Message,
	}
	if len(receipt.Details) > 0 {
		payload["details"] = receipt.Details
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
