package repository

import (
	"github.com/noteduco342/om-delivery/internal/config"
	"github.com/noteduco342/om-delivery/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Auto-migrate models
	if err := db.AutoMigrate(
		&models.Message{},
		&models.MessageReceipt{},
		&models.Group{},
		&models.GroupMember{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
