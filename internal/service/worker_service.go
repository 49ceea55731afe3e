package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/selimacar/pushfanout/internal/observability"
	"github.com/selimacar/pushfanout/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// WorkerService runs the consumer pool and routes each task to the send or
// receipt path by message kind.
type WorkerService struct {
	consumer    queue.Consumer
	sender      *Sender
	poller      *ReceiptPoller
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewWorkerService(
	consumer queue.Consumer,
	sender *Sender,
	poller *ReceiptPoller,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if poller == nil {
		return nil, fmt.Errorf("receipt poller is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		sender:      sender,
		poller:      poller,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the work queues until context cancellation. Workers are
// spread round-robin across queues so receipt checks keep flowing during a
// large fan-out.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.Message) error {
	if err := msg.Validate(); err != nil {
		s.logger.Warn("dropping malformed task message", zap.Error(err))
		return nil
	}

	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	kind := strings.ToLower(string(msg.Kind))
	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(kind)
		defer s.metrics.DecWorkerInFlight(kind)
	}

	switch msg.Kind {
	case queue.KindSend:
		return s.sender.Send(ctx, msg.NotificationID)
	case queue.KindReceiptCheck:
		return s.poller.CheckBatch(ctx, msg.DeliveryIDs)
	default:
		s.logger.Warn("dropping task with unknown kind", zap.String("kind", string(msg.Kind)))
		return nil
	}
}
