package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingOrder(t *testing.T) {
	files := fstest.MapFS{
		"migrations/010_add_index.sql":      {Data: []byte("SELECT 1")},
		"migrations/002_jobs.sql":           {Data: []byte("SELECT 1")},
		"migrations/001_initial_schema.sql": {Data: []byte("SELECT 1")},
		"migrations/README.md":              {Data: []byte("notes")},
		"migrations/draft.sql":              {Data: []byte("SELECT 1")},
	}

	got, err := pendingOrder(files)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].version)
	assert.Equal(t, 2, got[1].version)
	assert.Equal(t, "010_add_index.sql", got[2].name)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	got, err := pendingOrder(migrationFiles)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, 1, got[0].version)
}
