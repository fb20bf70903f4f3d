package locking

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// MemoryLocks is an in-process lock table. It keeps two workers of the same
// process off one table; it cannot see other processes.
type MemoryLocks struct {
	mu   sync.Mutex
	held map[string]string
	seq  atomic.Int64
}

// NewMemoryLocks creates an empty lock table.
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{held: map[string]string{}}
}

// Locker returns a locker for one lock name.
func (m *MemoryLocks) Locker(lockName string) *MemoryLocker {
	return &MemoryLocker{locks: m, lockName: lockName}
}

// MemoryLocker implements DistributedLocker on a MemoryLocks table.
type MemoryLocker struct {
	locks    *MemoryLocks
	lockName string
}

func (l *MemoryLocker) AcquireLock(ctx context.Context) (string, error) {
	l.locks.mu.Lock()
	defer l.locks.mu.Unlock()
	if _, ok := l.locks.held[l.lockName]; ok {
		return "", nil
	}
	id := "mem-" + strconv.FormatInt(l.locks.seq.Add(1), 10)
	l.locks.held[l.lockName] = id
	return id, nil
}

func (l *MemoryLocker) ReleaseLock(ctx context.Context, leaseID string) error {
	l.locks.mu.Lock()
	defer l.locks.mu.Unlock()
	if l.locks.held[l.lockName] == leaseID {
		delete(l.locks.held, l.lockName)
	}
	return nil
}

func (l *MemoryLocker) RenewLock(ctx context.Context) error { return nil }

// StartLockRenewal does nothing; an in-process lease cannot lapse.
func (l *MemoryLocker) StartLockRenewal(ctx context.Context, lost context.CancelCauseFunc) {}
