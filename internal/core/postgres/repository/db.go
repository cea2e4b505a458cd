package repository

import (
	"fmt"

	"sdlc-wizard/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres, e.g.
// "host=localhost user=postgres password=secret dbname=wizard port=5432 sslmode=disable"
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the workflow_runs and artifacts tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.WorkflowRun{}, &domain.Artifact{})
}
