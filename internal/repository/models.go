package repository

import (
	"time"

	"github.com/selimacar/pushfanout/internal/domain"
	"gorm.io/datatypes"
)

// TokenModel is the persistence model for the push_tokens table.
type TokenModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Value     string `gorm:"type:varchar(255);not null;uniqueIndex:idx_push_tokens_value"`
	Active    bool   `gorm:"not null;default:true;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TokenModel) TableName() string {
	return "push_tokens"
}

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID          string            `gorm:"type:uuid;primaryKey"`
	Title       string            `gorm:"type:varchar(255);not null"`
	Body        string            `gorm:"type:text;not null"`
	Data        datatypes.JSONMap `gorm:"type:jsonb"`
	Status      domain.Status     `gorm:"type:varchar(30);not null;index"`
	ScheduledAt *time.Time        `gorm:"type:timestamptz"`
	SentAt      *time.Time        `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryModel is the persistence model for the deliveries ledger.
// UNIQUE (notification_id, token_id) is the idempotency key for re-sends.
type DeliveryModel struct {
	ID               string                `gorm:"type:uuid;primaryKey"`
	NotificationID   string                `gorm:"type:uuid;not null;uniqueIndex:idx_deliveries_notification_token"`
	TokenID          string                `gorm:"type:uuid;not null;uniqueIndex:idx_deliveries_notification_token"`
	Status           domain.DeliveryStatus `gorm:"type:varchar(30);not null;index"`
	PushTicketID     *string               `gorm:"type:varchar(255);index"`
	ReceiptCheckedAt *time.Time            `gorm:"type:timestamptz"`
	ReceiptStatus    *string               `gorm:"type:varchar(50)"`
	ReceiptDetails   datatypes.JSON        `gorm:"type:jsonb"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (DeliveryModel) TableName() string {
	return "deliveries"
}

func tokenModelFromDomain(t *domain.Token) *TokenModel {
	if t == nil {
		return nil
	}

	return &TokenModel{
		ID:        t.ID,
		Value:     t.Value,
		Active:    t.Active,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func tokenModelToDomain(m *TokenModel) *domain.Token {
	if m == nil {
		return nil
	}

	return &domain.Token{
		ID:        m.ID,
		Value:     m.Value,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:          n.ID,
		Title:       n.Title,
		Body:        n.Body,
		Data:        datatypes.JSONMap(n.Data),
		Status:      n.Status,
		ScheduledAt: n.ScheduledAt,
		SentAt:      n.SentAt,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:          m.ID,
		Title:       m.Title,
		Body:        m.Body,
		Data:        map[string]any(m.Data),
		Status:      m.Status,
		ScheduledAt: m.ScheduledAt,
		SentAt:      m.SentAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:               m.ID,
		NotificationID:   m.NotificationID,
		TokenID:          m.TokenID,
		Status:           m.Status,
		PushTicketID:     m.PushTicketID,
		ReceiptCheckedAt: m.ReceiptCheckedAt,
		ReceiptStatus:    m.ReceiptStatus,
		ReceiptDetails:   m.ReceiptDetails,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
