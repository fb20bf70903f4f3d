package locking

import (
	"context"
	"fmt"

	"github.com/katasec/dstream-sync/internal/config"
	"github.com/katasec/dstream-sync/internal/locking"
	"github.com/katasec/dstream-sync/internal/utils"
)

// LockerFactory creates instances of DistributedLocker based on the configuration
type LockerFactory struct {
	configType       string
	connectionString string
	containerName    string
	memory           *locking.MemoryLocks
}

// NewLockerFactory initializes a new LockerFactory. A nil config selects the
// in-process locker.
func NewLockerFactory(cfg *config.LockConfig) *LockerFactory {
	f := &LockerFactory{configType: config.LockNone, memory: locking.NewMemoryLocks()}
	if cfg != nil && cfg.Type != "" {
		f.configType = cfg.Type
		f.connectionString = cfg.ConnectionString
		f.containerName = cfg.ContainerName
	}
	return f
}

// Type returns the configured lock type.
func (f *LockerFactory) Type() string { return f.configType }

// CreateLocker creates a DistributedLocker for the specified lock name
func (f *LockerFactory) CreateLocker(ctx context.Context, lockName string) (locking.DistributedLocker, error) {
	switch f.configType {
	case config.LockAzureBlob:
		return locking.NewBlobLocker(ctx, f.connectionString, f.containerName, lockName)
	case config.LockNone:
		return f.memory.Locker(lockName), nil
	default:
		return nil, fmt.Errorf("unsupported lock type: %s", f.configType)
	}
}

// GetLockName returns the lock name of a table. The watermark lives in the
// target database, so blob locks are grouped under the target server name.
func (f *LockerFactory) GetLockName(target config.DataSource, schema, table string) string {
	key := schema + "." + table
	switch f.configType {
	case config.LockAzureBlob:
		if serverName, err := utils.ExtractServerName(target.Driver, target.DSN); err == nil && serverName != "" {
			return serverName + "/" + locking.GetBlobLockName(key)
		}
		// Fall back to the default naming if we can't extract the server name
		return locking.GetBlobLockName(key)
	default:
		return key
	}
}
