package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate 创建或更新持久化所需的表
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&KVRecord{}); err != nil {
		return fmt.Errorf("failed to migrate kv_records: %w", err)
	}
	return nil
}
