// Package orchestrator fans replication out across the configured tables: it
// resolves a worker per table, aggregates provisioning statements into
// scripts or live batches, and supervises the running workers.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/katasec/dstream-sync/internal/cdc/ddl"
	cdclocking "github.com/katasec/dstream-sync/internal/cdc/locking"
	"github.com/katasec/dstream-sync/internal/cdc/replica"
	"github.com/katasec/dstream-sync/internal/config"
	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/internal/locking"
	"github.com/katasec/dstream-sync/internal/logging"
	"github.com/katasec/dstream-sync/internal/metrics"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

// ErrLeaseHeld is returned by Sync when another process owns the table.
var ErrLeaseHeld = errors.New("table is owned by another process")

// WorkerResult reports how a supervised worker ended. Skipped is set when the
// table's lease is held by another process and the worker never started.
type WorkerResult struct {
	Schema  string
	Table   string
	Skipped bool
	Err     error
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRegistry replaces the strategy registry.
func WithRegistry(r *Registry) Option { return func(o *Orchestrator) { o.registry = r } }

// WithFilesystem sets where DDL-only scripts are written.
func WithFilesystem(fs billy.Filesystem) Option { return func(o *Orchestrator) { o.fs = fs } }

// WithMetrics records worker metrics in m.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// LockProvider names and creates table leases. *cdclocking.LockerFactory is
// the configured implementation.
type LockProvider interface {
	GetLockName(target config.DataSource, schema, table string) string
	CreateLocker(ctx context.Context, lockName string) (locking.DistributedLocker, error)
}

// WithLockerFactory sets the table lease provider.
func WithLockerFactory(f LockProvider) Option { return func(o *Orchestrator) { o.locks = f } }

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// Orchestrator owns the table to worker map of one configuration.
type Orchestrator struct {
	cfg      *config.Config
	router   *db.Router
	registry *Registry
	locks    LockProvider
	metrics  *metrics.Metrics
	fs       billy.Filesystem
	log      hclog.Logger

	poll, maxPoll time.Duration

	mu      sync.RWMutex
	workers map[string]*replica.Worker
	failed  map[string]error
}

// New validates cfg and builds an orchestrator over router.
func New(cfg *config.Config, router *db.Router, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	poll, _ := cfg.GetPollInterval()
	maxPoll, _ := cfg.GetMaxPollInterval()

	o := &Orchestrator{
		cfg:     cfg,
		router:  router,
		poll:    poll,
		maxPoll: maxPoll,
		workers: map[string]*replica.Worker{},
		failed:  map[string]error{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.locks == nil {
		o.locks = cdclocking.NewLockerFactory(cfg.Lock)
	}
	if o.fs == nil {
		o.fs = osfs.New(cfg.OutputDir)
	}
	if o.log == nil {
		o.log = logging.Named("orchestrator")
	}

	for _, s := range cfg.Schemas {
		if err := ddl.CheckCollisions(s.Tables); err != nil {
			return nil, cdc.ConfigError("schema."+s.Name, err)
		}
	}
	return o, nil
}

// Resolve describes the named tables (all configured tables when none are
// given) and builds a worker for each through the registry. Tables that could
// not be resolved are returned in the error map; the others are unaffected.
// Resolved workers are kept and reused by later calls.
func (o *Orchestrator) Resolve(ctx context.Context, tables ...string) (map[string]*replica.Worker, map[string]error) {
	wanted := map[string]bool{}
	for _, t := range tables {
		wanted[t] = true
	}

	out := map[string]*replica.Worker{}
	failed := map[string]error{}
	for _, s := range o.cfg.Schemas {
		var pending []string
		for _, t := range s.Tables {
			if len(wanted) > 0 && !wanted[t] {
				continue
			}
			delete(wanted, t)
			if w, ok := o.worker(t); ok {
				out[t] = w
				continue
			}
			pending = append(pending, t)
		}
		if len(pending) == 0 {
			continue
		}
		for t, w := range o.resolveSchema(ctx, s.Name, pending, failed) {
			out[t] = w
		}
	}
	for t := range wanted {
		failed[t] = cdc.ConfigError("resolve", errors.Errorf("table %q is not configured", t))
	}

	o.mu.Lock()
	for t, w := range out {
		o.workers[t] = w
		delete(o.failed, t)
	}
	for t, err := range failed {
		o.failed[t] = err
	}
	o.mu.Unlock()
	return out, failed
}

func (o *Orchestrator) resolveSchema(ctx context.Context, schema string, tables []string, failed map[string]error) map[string]*replica.Worker {
	fail := func(err error) map[string]*replica.Worker {
		for _, t := range tables {
			failed[t] = err
			o.log.Error("Failed to resolve table", "schema", schema, "table", t, "error", err)
		}
		return nil
	}

	dialect, err := o.router.Dialect(ctx, schema, cdc.Source)
	if err != nil {
		return fail(err)
	}
	catalog, err := db.NewCatalog(dialect)
	if err != nil {
		return fail(cdc.CatalogError(schema, "", "catalog", err))
	}
	conn, err := o.router.Conn(ctx, schema, cdc.Source)
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	out := map[string]*replica.Worker{}
	for _, t := range tables {
		spec, err := catalog.Describe(ctx, conn, schema, t)
		if err != nil {
			failed[t] = err
			o.log.Error("Failed to resolve table", "schema", schema, "table", t, "error", err)
			continue
		}
		strategy, ok := o.registry.Lookup(spec)
		if !ok {
			failed[t] = cdc.CatalogError(schema, t, "resolve", errors.New("no sync strategy accepts the table"))
			o.log.Error("No sync strategy for table", "schema", schema, "table", t)
			continue
		}
		out[t] = strategy.Factory(replica.Config{
			Spec:            spec,
			BatchSize:       o.cfg.BatchSize,
			PollInterval:    o.poll,
			MaxPollInterval: o.maxPoll,
		}, o.router, replica.WithMetrics(o.metrics), replica.WithLogger(o.log.Named("worker")))
		o.log.Info("Resolved table", "schema", schema, "table", t, "strategy", strategy.Name,
			"columns", len(spec.Columns), "primary_keys", spec.PrimaryKeys)
	}
	return out
}

func (o *Orchestrator) worker(table string) (*replica.Worker, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	w, ok := o.workers[table]
	return w, ok
}

// Worker returns the worker of a table, resolving it when needed.
func (o *Orchestrator) Worker(ctx context.Context, table string) (*replica.Worker, error) {
	if w, ok := o.worker(table); ok {
		return w, nil
	}
	workers, failed := o.Resolve(ctx, table)
	if err := failed[table]; err != nil {
		return nil, err
	}
	return workers[table], nil
}

// CanSync reports whether a worker can be built for table.
func (o *Orchestrator) CanSync(ctx context.Context, table string) bool {
	_, err := o.Worker(ctx, table)
	return err == nil
}

// Statements returns the provisioning statements of one table.
func (o *Orchestrator) Statements(ctx context.Context, table string) ([]cdc.SQLStatement, error) {
	w, err := o.Worker(ctx, table)
	if err != nil {
		return nil, err
	}
	spec := w.Spec()
	src, err := o.router.Dialect(ctx, spec.Schema, cdc.Source)
	if err != nil {
		return nil, err
	}
	tgt, err := o.router.Dialect(ctx, spec.Schema, cdc.Target)
	if err != nil {
		return nil, err
	}
	return ddl.Generate(spec, src, tgt)
}

// Workers returns a status snapshot of every resolved worker, ordered by schema
// and table.
func (o *Orchestrator) Workers() []replica.Status {
	o.mu.RLock()
	out := make([]replica.Status, 0, len(o.workers))
	for _, w := range o.workers {
		out = append(out, w.Status())
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Schema != out[j].Schema {
			return out[i].Schema < out[j].Schema
		}
		return out[i].Table < out[j].Table
	})
	return out
}

// StartAll runs every configured table. Each worker runs under its own lease
// and supervisor; a failing or panicking worker is reported on the returned
// channel without affecting its siblings. Tables that fail to resolve are
// reported the same way. The channel is closed once every worker has exited,
// which the caller triggers by cancelling ctx.
func (o *Orchestrator) StartAll(ctx context.Context) <-chan WorkerResult {
	workers, failed := o.Resolve(ctx)
	results := make(chan WorkerResult, len(workers)+len(failed))

	for t, err := range failed {
		schema, _ := o.cfg.SchemaOf(t)
		results <- WorkerResult{Schema: schema, Table: t, Err: err}
	}

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			results <- o.supervise(ctx, w)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()
	return results
}

// Sync runs the worker of one table under its lease until ctx is done or the
// worker fails.
func (o *Orchestrator) Sync(ctx context.Context, table string) error {
	w, err := o.Worker(ctx, table)
	if err != nil {
		return err
	}
	res := o.supervise(ctx, w)
	if res.Skipped {
		return ErrLeaseHeld
	}
	return res.Err
}

// supervise holds the table lease for the lifetime of one worker.
func (o *Orchestrator) supervise(ctx context.Context, w *replica.Worker) (res WorkerResult) {
	spec := w.Spec()
	res = WorkerResult{Schema: spec.Schema, Table: spec.Table}
	log := o.log.With("schema", spec.Schema, "table", spec.Table)

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("sync worker panicked: %v", r)
			log.Error("Sync worker panicked", "panic", r)
		}
	}()

	schemaCfg, _ := o.cfg.Schema(spec.Schema)
	lockName := o.locks.GetLockName(schemaCfg.Target, spec.Schema, spec.Table)
	locker, err := o.locks.CreateLocker(ctx, lockName)
	if err != nil {
		res.Err = errors.Wrapf(err, "create locker %s", lockName)
		return res
	}
	leaseID, err := locker.AcquireLock(ctx)
	if err != nil {
		res.Err = errors.Wrapf(err, "acquire lock %s", lockName)
		return res
	}
	if leaseID == "" {
		log.Info("Table is owned by another process, skipping", "lock", lockName)
		res.Skipped = true
		return res
	}

	// The worker only runs while the lease is held; a failed renewal stops it.
	leaseCtx, stopLease := context.WithCancelCause(ctx)
	locker.StartLockRenewal(leaseCtx, stopLease)
	defer func() {
		stopLease(nil)
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := locker.ReleaseLock(releaseCtx, leaseID); err != nil {
			log.Warn("Failed to release lock", "lock", lockName, "error", err)
		}
	}()

	res.Err = w.Run(leaseCtx)
	if res.Err == nil && ctx.Err() == nil && leaseCtx.Err() != nil {
		res.Err = context.Cause(leaseCtx)
		log.Error("Lease lost, worker stopped", "lock", lockName, "error", res.Err)
	}
	return res
}
