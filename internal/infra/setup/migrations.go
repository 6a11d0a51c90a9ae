package setup

import (
	"fmt"

	"classroom-whiteboard/internal/domain"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MigrateDB 执行所有数据库迁移
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if err := migrateRoomsTable(db); err != nil {
		return fmt.Errorf("failed to migrate rooms table: %w", err)
	}

	if err := db.AutoMigrate(&domain.ActionRecord{}, &domain.SnapshotRecord{}); err != nil {
		logrus.Errorf("Failed to auto-migrate other tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}

// migrateRoomsTable rooms 表使用字符串主键，首次创建时用显式 SQL 固定字符集与索引
func migrateRoomsTable(db *gorm.DB) error {
	var count int64
	db.Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = 'rooms'").Count(&count)

	if count == 0 {
		return createRoomsTable(db)
	}
	if err := db.AutoMigrate(&domain.Room{}); err != nil {
		logrus.Errorf("Failed to auto-migrate Room table: %v", err)
		return fmt.Errorf("failed to migrate room columns: %w", err)
	}
	logrus.Info("Rooms table schema checked/updated successfully")
	return nil
}

func createRoomsTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE rooms (
		id VARCHAR(32) NOT NULL PRIMARY KEY,
		name VARCHAR(191) NOT NULL,
		created_by VARCHAR(191) NOT NULL,
		tutor_passcode_hash VARCHAR(100),
		created_at DATETIME(3),
		last_active DATETIME(3),
		updated_at DATETIME(3),
		INDEX idx_rooms_created_by (created_by),
		INDEX idx_rooms_last_active (last_active)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;
	`
	if err := db.Exec(sql).Error; err != nil {
		logrus.Errorf("Failed to create rooms table: %v", err)
		return fmt.Errorf("failed to create rooms table: %w", err)
	}
	logrus.Info("Rooms table created successfully")
	return nil
}
