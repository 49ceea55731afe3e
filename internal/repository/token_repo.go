package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/selimacar/pushfanout/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TokenRepository interface {
	// Upsert registers a token value, reactivating it when it already exists.
	// It reports whether a new row was created.
	Upsert(ctx context.Context, value string) (*domain.Token, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Token, error)
	ListActive(ctx context.Context) ([]domain.Token, error)
	// Deactivate flips the token inactive. It is idempotent and reports
	// whether the row actually changed.
	Deactivate(ctx context.Context, id string) (bool, error)
}

type GormTokenRepo struct {
	db *gorm.DB
}

func NewGormTokenRepo(db *gorm.DB) *GormTokenRepo {
	return &GormTokenRepo{db: db}
}

func (r *GormTokenRepo) Upsert(ctx context.Context, value string) (*domain.Token, bool, error) {
	model := TokenModel{
		ID:     uuid.NewString(),
		Value:  value,
		Active: true,
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "value"}},
			DoUpdates: clause.Assignments(map[string]any{
				"active":     true,
				"updated_at": time.Now().UTC(),
			}),
		}).
		Create(&model)
	if result.Error != nil {
		return nil, false, result.Error
	}

	// The upsert keeps the existing row id on conflict, so re-read by value.
	var stored TokenModel
	if err := r.db.WithContext(ctx).First(&stored, "value = ?", value).Error; err != nil {
		return nil, false, err
	}

	created := stored.ID == model.ID
	return tokenModelToDomain(&stored), created, nil
}

func (r *GormTokenRepo) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	var model TokenModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tokenModelToDomain(&model), nil
}

func (r *GormTokenRepo) ListActive(ctx context.Context) ([]domain.Token, error) {
	var models []TokenModel
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	tokens := make([]domain.Token, 0, len(models))
	for i := range models {
		tokens = append(tokens, *tokenModelToDomain(&models[i]))
	}

	return tokens, nil
}

func (r *GormTokenRepo) Deactivate(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&TokenModel{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
