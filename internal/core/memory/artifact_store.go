package memory

import (
	"context"
	"fmt"
	"sync"

	"sdlc-wizard/internal/domain"
)

type artifactKey struct {
	runID string
	kind  domain.ArtifactKind
}

// ArtifactStore keeps every version in memory. Refs look like
// "mem://<run>/<kind>/<version>".
type ArtifactStore struct {
	mu       sync.RWMutex
	byRef    map[domain.ArtifactRef][]byte
	versions map[artifactKey][]domain.ArtifactRef
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		byRef:    make(map[domain.ArtifactRef][]byte),
		versions: make(map[artifactKey][]domain.ArtifactRef),
	}
}

func (s *ArtifactStore) Put(ctx context.Context, runID string, kind domain.ArtifactKind, content []byte) (domain.ArtifactRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := artifactKey{runID: runID, kind: kind}
	ref := domain.ArtifactRef(fmt.Sprintf("mem://%s/%s/%d", runID, kind, len(s.versions[key])+1))
	s.byRef[ref] = append([]byte(nil), content...)
	s.versions[key] = append(s.versions[key], ref)
	return ref, nil
}

func (s *ArtifactStore) Get(ctx context.Context, runID string, kind domain.ArtifactKind) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.versions[artifactKey{runID: runID, kind: kind}]
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: %s artifact for run %s", domain.ErrNotFound, kind, runID)
	}
	return append([]byte(nil), s.byRef[refs[len(refs)-1]]...), nil
}

func (s *ArtifactStore) GetRef(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, ref)
	}
	return append([]byte(nil), content...), nil
}

// VersionCount is used by tests to assert that re-runs never overwrite.
func (s *ArtifactStore) VersionCount(runID string, kind domain.ArtifactKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[artifactKey{runID: runID, kind: kind}])
}
