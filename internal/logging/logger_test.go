package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsLoggers(t *testing.T) {
	t.Parallel()

	dev, err := New(true, "")
	require.NoError(t, err)
	require.NotNil(t, dev)
	assert.True(t, dev.Core().Enabled(-1)) // debug enabled in development

	prod, err := New(false, "")
	require.NoError(t, err)
	require.NotNil(t, prod)
	assert.False(t, prod.Core().Enabled(-1))
}

func TestNewTeesIntoFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crawler.log")
	logger, err := New(false, path)
	require.NoError(t, err)

	logger.Info("run started")
	// Sync can fail on the stderr core depending on the platform; the file
	// core is what this test cares about.
	_ = logger.Sync()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "run started")
}
