package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/selimacar/pushfanout/internal/repository"
	"gorm.io/gorm"
)

func createPushTokensTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_push_tokens",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TokenModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_push_tokens_active ON push_tokens (created_at) WHERE active = TRUE`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TokenModel{})
		},
	}
}
