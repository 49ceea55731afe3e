package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/selimacar/pushfanout/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryStatusCount struct {
	Status domain.DeliveryStatus `gorm:"column:status"`
	Count  int                   `gorm:"column:count"`
}

type DeliveryRepository interface {
	// UpsertPending creates one PENDING_SEND row per token, or resets an
	// existing (notification, token) row back to PENDING_SEND and clears its
	// ticket/receipt fields. Rows already at RECEIPT_OK are left untouched.
	// The upsert is a single atomic statement keyed on the unique pair, so
	// concurrent re-sends converge on the same rows. It returns every row for
	// the pairs, including the untouched RECEIPT_OK ones.
	UpsertPending(ctx context.Context, notificationID string, tokenIDs []string) ([]domain.Delivery, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Delivery, error)
	ListByNotification(ctx context.Context, notificationID string) ([]domain.Delivery, error)
	MarkSent(ctx context.Context, id string, ticketID string) error
	// MarkSendError records a gateway send failure on rows still at
	// PENDING_SEND; already-acknowledged rows are left alone.
	MarkSendError(ctx context.Context, ids []string, details datatypes.JSON) (int64, error)
	RecordReceipt(ctx context.Context, id string, status domain.DeliveryStatus, receiptStatus *string, details datatypes.JSON, checkedAt time.Time) error
	// MarkReceiptPending flags rows whose receipt the gateway has not produced
	// yet. It deliberately leaves receipt_checked_at NULL so the rows stay
	// eligible for the next poll.
	MarkReceiptPending(ctx context.Context, ids []string) (int64, error)
	// FindDueReceiptChecks selects rows holding a ticket, last touched inside
	// the [oldest, latest] window, with no receipt recorded yet.
	FindDueReceiptChecks(ctx context.Context, oldest time.Time, latest time.Time, limit int) ([]string, error)
	CountByStatus(ctx context.Context, notificationID string) ([]DeliveryStatusCount, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) UpsertPending(ctx context.Context, notificationID string, tokenIDs []string) ([]domain.Delivery, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}

	models := make([]DeliveryModel, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		models = append(models, DeliveryModel{
			ID:             uuid.NewString(),
			NotificationID: notificationID,
			TokenID:        tokenID,
			Status:         domain.DeliveryPendingSend,
		})
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "notification_id"}, {Name: "token_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"status":             domain.DeliveryPendingSend,
				"push_ticket_id":     nil,
				"receipt_checked_at": nil,
				"receipt_status":     nil,
				"receipt_details":    nil,
				"updated_at":         time.Now().UTC(),
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("deliveries.status <> ?", domain.DeliveryReceiptOK),
			}},
		}).
		CreateInBatches(&models, 500).Error
	if err != nil {
		return nil, err
	}

	var stored []DeliveryModel
	err = r.db.WithContext(ctx).
		Where("notification_id = ? AND token_id IN ?", notificationID, tokenIDs).
		Find(&stored).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(stored))
	for i := range stored {
		deliveries = append(deliveries, *deliveryModelToDomain(&stored[i]))
	}

	return deliveries, nil
}

func (r *GormDeliveryRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Delivery, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}

func (r *GormDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}

func (r *GormDeliveryRepo) MarkSent(ctx context.Context, id string, ticketID string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         domain.DeliverySentToExpo,
			"push_ticket_id": ticketID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryRepo) MarkSendError(ctx context.Context, ids []string, details datatypes.JSON) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id IN ? AND status = ?", ids, domain.DeliveryPendingSend).
		Updates(map[string]any{
			"status":          domain.DeliveryExpoError,
			"receipt_details": details,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) RecordReceipt(
	ctx context.Context,
	id string,
	status domain.DeliveryStatus,
	receiptStatus *string,
	details datatypes.JSON,
	checkedAt time.Time,
) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":             status,
			"receipt_status":     receiptStatus,
			"receipt_details":    details,
			"receipt_checked_at": checkedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryRepo) MarkReceiptPending(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	// UpdateColumn keeps updated_at at the send time, so the poll window ages
	// out after the configured maximum instead of being re-extended per poll.
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id IN ? AND status IN ?", ids, []domain.DeliveryStatus{domain.DeliverySentToExpo, domain.DeliveryReceiptPendingCheck}).
		UpdateColumn("status", domain.DeliveryReceiptPendingCheck)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) FindDueReceiptChecks(ctx context.Context, oldest time.Time, latest time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("status IN ?", []domain.DeliveryStatus{domain.DeliverySentToExpo, domain.DeliveryReceiptPendingCheck}).
		Where("push_ticket_id IS NOT NULL").
		Where("receipt_checked_at IS NULL").
		Where("updated_at >= ? AND updated_at <= ?", oldest, latest).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormDeliveryRepo) CountByStatus(ctx context.Context, notificationID string) ([]DeliveryStatusCount, error) {
	var counts []DeliveryStatusCount
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Select("status, COUNT(*) as count").
		Where("notification_id = ?", notificationID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
