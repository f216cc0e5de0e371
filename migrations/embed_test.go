package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationsHaveUpAndDown(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.Len(t, files, 4)

	for _, f := range files {
		body, err := fs.ReadFile(FS, f)
		require.NoError(t, err)
		require.True(t, strings.Contains(string(body), "-- +goose Up"), f)
		require.True(t, strings.Contains(string(body), "-- +goose Down"), f)
	}
}
