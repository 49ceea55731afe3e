package domain

import (
	"time"

	"gorm.io/datatypes"
)

// DeliveryStatus represents the per-recipient send/receipt lifecycle.
type DeliveryStatus string

const (
	// DeliveryPendingSend means the ledger row exists but nothing was submitted yet.
	DeliveryPendingSend DeliveryStatus = "PENDING_SEND"
	// DeliverySentToExpo means the gateway acknowledged the message with a ticket.
	DeliverySentToExpo DeliveryStatus = "SENT_TO_EXPO"
	// DeliveryExpoError means the gateway rejected the message (no ticket) or
	// the whole batch call failed before a ticket could be issued.
	DeliveryExpoError DeliveryStatus = "EXPO_ERROR"
	// DeliveryReceiptPendingCheck means a ticket exists and a receipt lookup is outstanding.
	DeliveryReceiptPendingCheck DeliveryStatus = "RECEIPT_PENDING_CHECK"
	// DeliveryReceiptOK means the gateway receipt confirmed delivery.
	DeliveryReceiptOK DeliveryStatus = "RECEIPT_OK"
	// DeliveryReceiptError means the gateway receipt reported a delivery error.
	DeliveryReceiptError DeliveryStatus = "RECEIPT_ERROR"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPendingSend, DeliverySentToExpo, DeliveryExpoError,
		DeliveryReceiptPendingCheck, DeliveryReceiptOK, DeliveryReceiptError:
		return true
	}
	return false
}

// InFlight reports whether more processing is still expected for the row.
func (s DeliveryStatus) InFlight() bool {
	switch s {
	case DeliveryPendingSend, DeliverySentToExpo, DeliveryReceiptPendingCheck:
		return true
	}
	return false
}

// ReceiptTerminal reports whether a receipt outcome was already recorded.
func (s DeliveryStatus) ReceiptTerminal() bool {
	return s == DeliveryReceiptOK || s == DeliveryReceiptError
}

// Delivery is the ledger row tracking one (notification, token) pair.
// At most one row exists per pair; that uniqueness is what makes re-running
// the sender for the same notification safe.
type Delivery struct {
	ID               string
	NotificationID   string
	TokenID          string
	Status           DeliveryStatus
	PushTicketID     *string
	ReceiptCheckedAt *time.Time
	ReceiptStatus    *string
	ReceiptDetails   datatypes.JSON
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
