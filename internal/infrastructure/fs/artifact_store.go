// Package fs stores artifact versions as files, mirroring the dashboards'
// input/, stories/ and programs/ folders:
//
//	<root>/<run id>/<kind>/v0001.json
//
// References are the slash-separated path relative to root.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"sdlc-wizard/internal/domain"
)

const maxPutAttempts = 8

type ArtifactStore struct {
	root string
}

func NewArtifactStore(root string) (*ArtifactStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create artifact root: %w", err)
	}
	return &ArtifactStore{root: root}, nil
}

// Put writes content to a temp file, then hard-links it to the next free
// version name. os.Link fails if the name exists, so concurrent writers
// (even across processes) can never clobber a version and readers never see
// a partially written file.
func (s *ArtifactStore) Put(ctx context.Context, runID string, kind domain.ArtifactKind, content []byte) (domain.ArtifactRef, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, runID, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("fs: create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("fs: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("fs: write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("fs: sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("fs: close artifact: %w", err)
	}

	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		latest, err := latestVersion(dir)
		if err != nil {
			return "", err
		}
		name := versionName(latest+1, kind)
		err = os.Link(tmpName, filepath.Join(dir, name))
		if err == nil {
			return domain.ArtifactRef(path.Join(runID, string(kind), name)), nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("fs: publish artifact: %w", err)
		}
	}
	return "", fmt.Errorf("fs: could not allocate a version for %s/%s after %d attempts", runID, kind, maxPutAttempts)
}

func (s *ArtifactStore) Get(ctx context.Context, runID string, kind domain.ArtifactKind) ([]byte, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, runID, string(kind))
	latest, err := latestVersion(dir)
	if err != nil {
		return nil, err
	}
	if latest == 0 {
		return nil, fmt.Errorf("%w: %s artifact for run %s", domain.ErrNotFound, kind, runID)
	}
	return os.ReadFile(filepath.Join(dir, versionName(latest, kind)))
}

func (s *ArtifactStore) GetRef(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	rel := path.Clean(string(ref))
	if rel == "." || strings.HasPrefix(rel, "..") || path.IsAbs(rel) {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, ref)
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, ref)
		}
		return nil, err
	}
	return data, nil
}

func versionName(version int, kind domain.ArtifactKind) string {
	return fmt.Sprintf("v%04d%s", version, kind.Extension())
}

// latestVersion returns 0 when dir is missing or empty
func latestVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("fs: list artifacts: %w", err)
	}
	latest := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "v") {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(strings.TrimSuffix(name, filepath.Ext(name)), "v%d", &v); err == nil && v > latest {
			latest = v
		}
	}
	return latest, nil
}
