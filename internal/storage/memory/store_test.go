package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutArtifactCopiesContent(t *testing.T) {
	t.Parallel()

	store := NewStore()
	content := []byte("region,store\n")
	uri, err := store.PutArtifact(context.Background(), "menus/artifact.csv", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, "memory://menus/artifact.csv", uri)

	content[0] = 'R'
	stored, ok := store.Artifact("menus/artifact.csv")
	require.True(t, ok)
	assert.Equal(t, "region,store\n", string(stored), "stored copy must not alias the caller's buffer")
}

func TestArtifactMissing(t *testing.T) {
	t.Parallel()

	_, ok := NewStore().Artifact("menus/absent.csv")
	assert.False(t, ok)
}
