package queue

import (
	"context"
	"fmt"
)

const (
	// SendQueue carries fan-out tasks: one message per notification to send.
	SendQueue = "push.send"
	// ReceiptQueue carries receipt-check tasks: one message per batch of
	// delivery ids awaiting a gateway receipt lookup.
	ReceiptQueue = "push.receipts"

	dlqPrefix = "dlq."
)

// Publisher publishes task messages to a work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// MessageHandler handles a consumed task message.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer consumes task messages from a work queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// WorkQueueNames returns all work queues consumed by the worker pool.
func WorkQueueNames() []string {
	return []string{SendQueue, ReceiptQueue}
}

// DLQName returns the dead-letter queue for a work queue, e.g. dlq.push.send.
func DLQName(queue string) string {
	return fmt.Sprintf("%s%s", dlqPrefix, queue)
}
