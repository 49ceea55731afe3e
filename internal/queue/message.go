package queue

import (
	"fmt"
	"strings"
)

// Kind discriminates the task carried by a Message.
type Kind string

const (
	// KindSend asks the worker to fan a notification out to all active tokens.
	KindSend Kind = "SEND"
	// KindReceiptCheck asks the worker to resolve receipts for a batch of deliveries.
	KindReceiptCheck Kind = "RECEIPT_CHECK"
)

func (k Kind) IsValid() bool {
	return k == KindSend || k == KindReceiptCheck
}

// Message is the broker payload for delivery-engine tasks.
type Message struct {
	Kind           Kind     `json:"kind"`
	NotificationID string   `json:"notificationId,omitempty"`
	DeliveryIDs    []string `json:"deliveryIds,omitempty"`
	CorrelationID  string   `json:"correlationId,omitempty"`
}

// NewSendMessage builds the fan-out task for one notification.
func NewSendMessage(notificationID string) Message {
	return Message{
		Kind:           KindSend,
		NotificationID: notificationID,
	}
}

// NewReceiptCheckMessage builds the receipt-check task for one batch of deliveries.
func NewReceiptCheckMessage(deliveryIDs []string) Message {
	return Message{
		Kind:        KindReceiptCheck,
		DeliveryIDs: deliveryIDs,
	}
}

func (m Message) Validate() error {
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid message kind %q", m.Kind)
	}

	switch m.Kind {
	case KindSend:
		if strings.TrimSpace(m.NotificationID) == "" {
			return fmt.Errorf("notificationId is required for %s", m.Kind)
		}
	case KindReceiptCheck:
		if len(m.DeliveryIDs) == 0 {
			return fmt.Errorf("deliveryIds are required for %s", m.Kind)
		}
	}

	return nil
}

// QueueFor returns the work queue a message belongs on.
func (m Message) QueueFor() string {
	if m.Kind == KindReceiptCheck {
		return ReceiptQueue
	}
	return SendQueue
}
