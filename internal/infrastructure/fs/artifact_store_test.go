package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.ArtifactStore = (*ArtifactStore)(nil)

func newStore(t *testing.T) (*ArtifactStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewArtifactStore(root)
	require.NoError(t, err)
	return store, root
}

func TestArtifactStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, root := newStore(t)
	content := []byte("line one\nline two\x00binary")

	ref, err := store.Put(ctx, "r1", domain.ArtifactRequirementText, content)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactRef("r1/requirement_text/v0001.txt"), ref)
	assert.FileExists(t, filepath.Join(root, "r1", "requirement_text", "v0001.txt"))

	got, err := store.Get(ctx, "r1", domain.ArtifactRequirementText)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	byRef, err := store.GetRef(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, content, byRef)
}

func TestArtifactStore_NewVersionPerPut(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	ref1, err := store.Put(ctx, "r1", domain.ArtifactStories, []byte(`["a"]`))
	require.NoError(t, err)
	ref2, err := store.Put(ctx, "r1", domain.ArtifactStories, []byte(`["b"]`))
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactRef("r1/stories/v0002.json"), ref2)

	old, err := store.GetRef(ctx, ref1)
	require.NoError(t, err)
	assert.Equal(t, `["a"]`, string(old))

	latest, err := store.Get(ctx, "r1", domain.ArtifactStories)
	require.NoError(t, err)
	assert.Equal(t, `["b"]`, string(latest))
}

func TestArtifactStore_ConcurrentPutsSamePair(t *testing.T) {
	ctx := context.Background()
	store, root := newStore(t)

	const writers = 10
	var wg sync.WaitGroup
	refs := make(chan domain.ArtifactRef, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := store.Put(ctx, "r1", domain.ArtifactCode, []byte("x"))
			if err == nil {
				refs <- ref
			}
		}()
	}
	wg.Wait()
	close(refs)

	seen := map[domain.ArtifactRef]bool{}
	for ref := range refs {
		assert.False(t, seen[ref], "duplicate ref %s", ref)
		seen[ref] = true
	}
	entries, err := os.ReadDir(filepath.Join(root, "r1", "code"))
	require.NoError(t, err)
	assert.Len(t, entries, len(seen), "no temp files left behind")
}

func TestArtifactStore_Errors(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	_, err := store.Get(ctx, "r1", domain.ArtifactCode)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.GetRef(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.Put(ctx, "../escape", domain.ArtifactCode, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}
