package cdc

import "context"

// SyncService is the contract offered to a host orchestration service.
// The host may own other, product-specific migrators; the engine makes no
// assumption about what the host does with these calls.
type SyncService interface {
	// SyncData runs the replication loop for a single table until ctx is done
	// or the worker fails terminally.
	SyncData(ctx context.Context, table string) error

	// GenerateSyncScripts returns the provisioning statements of a table.
	GenerateSyncScripts(ctx context.Context, table string) ([]SQLStatement, error)

	// CanSyncData reports whether the table is configured and accepted by a sync strategy.
	CanSyncData(ctx context.Context, table string) bool

	// GetSchema returns the logical schema a table is configured under.
	GetSchema(table string) (string, error)
}
