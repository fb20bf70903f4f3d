package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrLeaseLost means a held lease could not be renewed and may already
// belong to another owner.
var ErrLeaseLost = errors.New("lease lost")

// KeepAlive renews l every interval until ctx is done. The first failed
// renewal is handed to lost and ends the loop.
func KeepAlive(ctx context.Context, l DistributedLocker, interval time.Duration, lost context.CancelCauseFunc, log hclog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := l.RenewLock(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Error("Failed to renew lock, giving up ownership", "error", err)
					lost(fmt.Errorf("%w: %w", ErrLeaseLost, err))
					return
				}
			case <-ctx.Done():
				log.Debug("Stopping lock renewal")
				return
			}
		}
	}()
}
