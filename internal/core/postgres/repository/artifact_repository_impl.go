package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type artifactRepository struct {
	db *gorm.DB
}

// NewArtifactRepository creates a gorm-backed ArtifactStore. References are
// the artifact row ids.
func NewArtifactRepository(db *gorm.DB) ports.ArtifactStore {
	return &artifactRepository{db: db}
}

// Put inserts the next version for (runID, kind). The unique index on
// (run_id, kind, version) rejects a racing writer instead of overwriting.
func (r *artifactRepository) Put(ctx context.Context, runID string, kind domain.ArtifactKind, content []byte) (domain.ArtifactRef, error) {
	artifact := &domain.Artifact{
		ID:        uuid.New().String(),
		RunID:     runID,
		Kind:      kind,
		Content:   append([]byte(nil), content...),
		Size:      len(content),
		CreatedAt: time.Now(),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int
		err := tx.Model(&domain.Artifact{}).
			Where("run_id = ? AND kind = ?", runID, kind).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).Error
		if err != nil {
			return err
		}
		artifact.Version = latest + 1
		return tx.Create(artifact).Error
	})
	if err != nil {
		return "", fmt.Errorf("store %s artifact for run %s: %w", kind, runID, err)
	}

	return domain.ArtifactRef(artifact.ID), nil
}

func (r *artifactRepository) Get(ctx context.Context, runID string, kind domain.ArtifactKind) ([]byte, error) {
	var artifact domain.Artifact
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND kind = ?", runID, kind).
		Order("version desc").
		First(&artifact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s artifact for run %s", domain.ErrNotFound, kind, runID)
		}
		return nil, err
	}
	return artifact.Content, nil
}

func (r *artifactRepository) GetRef(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	var artifact domain.Artifact
	err := r.db.WithContext(ctx).Where("id = ?", string(ref)).First(&artifact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, ref)
		}
		return nil, err
	}
	return artifact.Content, nil
}
