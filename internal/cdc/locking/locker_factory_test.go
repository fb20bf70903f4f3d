package locking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katasec/dstream-sync/internal/config"
)

func TestLockNames(t *testing.T) {
	target := config.DataSource{Driver: "mysql", DSN: "u:p@tcp(new-db.internal:3306)/identity"}

	none := NewLockerFactory(nil)
	assert.Equal(t, config.LockNone, none.Type())
	assert.Equal(t, "identity.TOKENS", none.GetLockName(target, "identity", "TOKENS"))

	blob := NewLockerFactory(&config.LockConfig{Type: config.LockAzureBlob, ContainerName: "locks"})
	assert.Equal(t, "new-db/identity.TOKENS.lock", blob.GetLockName(target, "identity", "TOKENS"))
	assert.Equal(t, "identity.TOKENS.lock", blob.GetLockName(config.DataSource{Driver: "sqlserver", DSN: "user id=sa"}, "identity", "TOKENS"))
}

func TestCreateLocker(t *testing.T) {
	ctx := context.Background()
	f := NewLockerFactory(&config.LockConfig{Type: config.LockNone})

	a, err := f.CreateLocker(ctx, "identity.TOKENS")
	require.NoError(t, err)
	b, err := f.CreateLocker(ctx, "identity.TOKENS")
	require.NoError(t, err)

	id, err := a.AcquireLock(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	held, err := b.AcquireLock(ctx)
	require.NoError(t, err)
	assert.Empty(t, held)

	_, err = NewLockerFactory(&config.LockConfig{Type: "redis"}).CreateLocker(ctx, "x")
	assert.Error(t, err)
}
