package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/selimacar/pushfanout/internal/repository"
	"gorm.io/gorm"
)

func createDeliveriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_deliveries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_deliveries_notification_status ON deliveries (notification_id, status)`,
				`CREATE INDEX IF NOT EXISTS idx_deliveries_receipt_due ON deliveries (updated_at) WHERE status IN ('SENT_TO_EXPO', 'RECEIPT_PENDING_CHECK') AND push_ticket_id IS NOT NULL AND receipt_checked_at IS NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryModel{})
		},
	}
}
