// distributed_locker.go
package locking

import (
	"context"
)

// DistributedLocker guards single ownership of one lock name.
type DistributedLocker interface {
	// AcquireLock tries to take the lock and returns its lease ID. An empty ID
	// with a nil error means another owner holds the lock.
	AcquireLock(ctx context.Context) (string, error)

	// ReleaseLock gives up the lease with the provided ID.
	ReleaseLock(ctx context.Context, leaseID string) error

	// RenewLock extends the current lease.
	RenewLock(ctx context.Context) error

	// StartLockRenewal renews the lease in the background until ctx is done.
	// When a renewal fails the lease must be assumed gone: lost is called with
	// an error wrapping ErrLeaseLost and renewal stops.
	StartLockRenewal(ctx context.Context, lost context.CancelCauseFunc)
}
