package orchestrator

import (
	"sync"

	"github.com/katasec/dstream-sync/internal/cdc/replica"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

// DefaultStrategy is the name of the built-in strategy.
const DefaultStrategy = "default"

// WorkerFactory builds the worker of an accepted table.
type WorkerFactory func(cfg replica.Config, conns replica.Connector, opts ...replica.Option) *replica.Worker

// Strategy decides whether it can replicate a table and, if so, builds its worker.
type Strategy struct {
	Name    string
	CanSync func(spec cdc.TableSyncSpec) bool
	Factory WorkerFactory
}

// Registry is an ordered list of strategies. Lookup returns the first that
// accepts a table; the default strategy is always consulted last.
type Registry struct {
	mu         sync.RWMutex
	strategies []Strategy
	fallback   Strategy
}

// NewRegistry returns a registry holding only the default strategy, which
// accepts every table with a primary key and applies rows unchanged.
func NewRegistry() *Registry {
	return &Registry{
		fallback: Strategy{
			Name:    DefaultStrategy,
			CanSync: func(spec cdc.TableSyncSpec) bool { return len(spec.PrimaryKeys) > 0 },
			Factory: replica.NewWorker,
		},
	}
}

// Register appends a strategy; it is tried after earlier registrations and
// before the default.
func (r *Registry) Register(s Strategy) {
	if s.Factory == nil {
		s.Factory = replica.NewWorker
	}
	r.mu.Lock()
	r.strategies = append(r.strategies, s)
	r.mu.Unlock()
}

// Lookup returns the first strategy accepting spec.
func (r *Registry) Lookup(spec cdc.TableSyncSpec) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.strategies {
		if s.CanSync == nil || s.CanSync(spec) {
			return s, true
		}
	}
	if r.fallback.CanSync(spec) {
		return r.fallback, true
	}
	return Strategy{}, false
}

// Names lists the strategies in lookup order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies)+1)
	for _, s := range r.strategies {
		names = append(names, s.Name)
	}
	return append(names, r.fallback.Name)
}
