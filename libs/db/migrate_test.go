package db

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergedFSOverlaysMigrationSets(t *testing.T) {
	shared, err := fs.Sub(eventing, "migrations")
	require.NoError(t, err)
	service := fstest.MapFS{
		"00002_students.sql": &fstest.MapFile{Data: []byte("-- +goose Up\nSELECT 1;\n")},
	}

	m := mergedFS{shared, service}

	names, err := fs.Glob(m, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"00001_eventing.sql", "00002_students.sql"}, names)

	data, err := fs.ReadFile(m, "00002_students.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "goose Up")

	_, err = m.Open("missing.sql")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
