package sheets

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.Sheets{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, config.Sheets{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "d.db")})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "kits", []string{"a"}, [][]string{{"1"}}))
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.Sheets{Driver: "gsheets"})
	assert.Error(t, err)
}
