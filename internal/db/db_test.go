package db

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolOptionsDefaults(t *testing.T) {
	o := PoolOptions{}.withDefaults()
	assert.Equal(t, int32(10), o.MaxConns)
	assert.Equal(t, int32(2), o.MinConns)
	assert.Equal(t, time.Hour, o.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, o.MaxConnIdleTime)

	custom := PoolOptions{MaxConns: 40}.withDefaults()
	assert.Equal(t, int32(40), custom.MaxConns)
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
