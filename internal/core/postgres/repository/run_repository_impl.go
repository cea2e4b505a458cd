package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type runRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new gorm-backed RunRepository
func NewRunRepository(db *gorm.DB) ports.RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, run *domain.WorkflowRun) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.WorkflowRun{}).Where("run_id = ?", run.RunID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: run %s already exists", domain.ErrInvalidState, run.RunID)
		}
		return tx.Create(run).Error
	})
}

func (r *runRepository) Get(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
		}
		return nil, err
	}
	normalize(&run)
	return &run, nil
}

// Save uses the version column the same way task claiming does: the row is
// only updated if nobody else wrote it since we read it.
func (r *runRepository) Save(ctx context.Context, run *domain.WorkflowRun) error {
	artifacts, err := json.Marshal(run.Artifacts)
	if err != nil {
		return err
	}
	approvals, err := json.Marshal(run.Approvals)
	if err != nil {
		return err
	}
	rejection, err := json.Marshal(run.Rejection)
	if err != nil {
		return err
	}

	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&domain.WorkflowRun{}).
		Where("run_id = ? AND version = ?", run.RunID, run.Version).
		Updates(map[string]interface{}{
			"stage":      string(run.Stage),
			"status":     string(run.Status),
			"artifacts":  datatypes.JSON(artifacts),
			"approvals":  datatypes.JSON(approvals),
			"rejection":  datatypes.JSON(rejection),
			"error":      run.Error,
			"version":    run.Version + 1,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s was modified concurrently (version %d)", domain.ErrInvalidState, run.RunID, run.Version)
	}

	run.Version++
	run.UpdatedAt = now
	return nil
}

func (r *runRepository) List(ctx context.Context) ([]*domain.WorkflowRun, error) {
	var runs []*domain.WorkflowRun
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&runs).Error; err != nil {
		return nil, err
	}
	for _, run := range runs {
		normalize(run)
	}
	return runs, nil
}

// normalize replaces nil maps left by a "null" JSON column
func normalize(run *domain.WorkflowRun) {
	if run.Artifacts == nil {
		run.Artifacts = make(map[domain.ArtifactKind]domain.ArtifactRef)
	}
	if run.Approvals == nil {
		run.Approvals = make(map[domain.Stage]bool)
	}
}
