package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestMigrationVersion(t *testing.T) {
	t.Run("should return the highest up migration", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{
			"000001_directory.up.sql",
			"000001_directory.down.sql",
			"000002_church_geo.up.sql",
			"000002_church_geo.down.sql",
			"README.md",
		} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600))
		}

		version, err := latestMigrationVersion(dir)
		require.NoError(t, err)
		assert.Equal(t, 2, version)
	})

	t.Run("should fail on an empty folder", func(t *testing.T) {
		_, err := latestMigrationVersion(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("should ship the directory migrations", func(t *testing.T) {
		version, err := latestMigrationVersion(filepath.Join("..", "..", "db", "pg"))
		require.NoError(t, err)
		assert.Equal(t, 2, version)
	})
}
