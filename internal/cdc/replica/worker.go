// Package replica keeps one target table converged with its source table by
// polling the source journal and applying windows of it to the target.
package replica

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/katasec/dstream-sync/internal/cdc/utils"
	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/internal/logging"
	"github.com/katasec/dstream-sync/internal/metrics"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

// Connector hands out per-iteration connections; *db.Router implements it.
type Connector interface {
	Conn(ctx context.Context, schema string, side cdc.Side) (*sql.Conn, error)
	Dialect(ctx context.Context, schema string, side cdc.Side) (db.Dialect, error)
}

// Transformer rewrites a journal row before it is applied.
type Transformer func(spec cdc.TableSyncSpec, row *JournalRow) error

// Config holds the per-table settings of a Worker.
type Config struct {
	Spec            cdc.TableSyncSpec
	BatchSize       int
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// State is the coarse lifecycle of a Worker.
type State string

const (
	StateStarting State = "starting"
	StateIdle     State = "idle"
	StateApplying State = "applying"
	StateRetrying State = "retrying"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Status is a point-in-time snapshot of a Worker.
type Status struct {
	Schema      string    `json:"schema"`
	Table       string    `json:"table"`
	State       State     `json:"state"`
	Watermark   int64     `json:"watermark"`
	JournalMax  int64     `json:"journal_max"`
	Iterations  int64     `json:"iterations"`
	RowsApplied int64     `json:"rows_applied"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Outcome classifies a finished iteration.
type Outcome string

const (
	// OutcomeIdle means the journal held nothing past the watermark.
	OutcomeIdle Outcome = metrics.OutcomeIdle
	// OutcomeApplied means a window was committed together with the new watermark.
	OutcomeApplied Outcome = metrics.OutcomeApplied
	// OutcomeSkipped means the window was empty but ids lay beyond it, so the
	// watermark moved past the gap.
	OutcomeSkipped Outcome = metrics.OutcomeSkipped
)

// IterationResult describes one successful iteration.
type IterationResult struct {
	Outcome    Outcome
	Watermark  int64 // after the iteration
	JournalMax int64
	Inserted   int
	Updated    int
}

// Option customises a Worker.
type Option func(*Worker)

// WithLogger sets the logger; schema and table are added to it.
func WithLogger(l hclog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// WithMetrics records iterations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithTransformer rewrites every row before it is applied.
func WithTransformer(t Transformer) Option {
	return func(w *Worker) { w.transform = t }
}

// Worker replicates one table. Its watermark has no other writer, which the
// caller guarantees by running a single Worker per table.
type Worker struct {
	cfg       Config
	conns     Connector
	log       hclog.Logger
	metrics   *metrics.Metrics
	transform Transformer

	initialized bool
	reader      *journalReader
	applier     *applier
	store       *WatermarkStore

	mu     sync.Mutex
	status Status
}

// NewWorker creates a worker. Nothing is opened until the first iteration.
func NewWorker(cfg Config, conns Connector, opts ...Option) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	w := &Worker{
		cfg:   cfg,
		conns: conns,
		log:   logging.Named("worker"),
		status: Status{
			Schema: cfg.Spec.Schema,
			Table:  cfg.Spec.Table,
			State:  StateStarting,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("schema", cfg.Spec.Schema, "table", cfg.Spec.Table)
	return w
}

// Spec returns the table the worker replicates.
func (w *Worker) Spec() cdc.TableSyncSpec { return w.cfg.Spec }

// Status returns a snapshot of the worker.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) update(fn func(*Status)) {
	w.mu.Lock()
	fn(&w.status)
	w.status.UpdatedAt = time.Now()
	w.mu.Unlock()
}

func (w *Worker) setState(s State, err error) {
	w.update(func(st *Status) {
		st.State = s
		if err != nil {
			st.LastError = err.Error()
		}
	})
}

// Run loops until ctx is done or a non-retryable error occurs. Cancellation is
// honoured between iterations and while sleeping, never inside the apply
// transaction. A clean stop returns nil.
func (w *Worker) Run(ctx context.Context) error {
	backoff := utils.NewBackoffManager(w.cfg.PollInterval, w.cfg.MaxPollInterval)
	w.log.Info("Starting sync worker", "batch_size", w.cfg.BatchSize, "poll_interval", w.cfg.PollInterval)

	for {
		if ctx.Err() != nil {
			w.log.Info("Stopping sync worker due to context cancellation")
			w.setState(StateStopped, nil)
			return nil
		}

		res, err := w.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			continue
		case err != nil && cdc.Retryable(err):
			w.setState(StateRetrying, err)
			w.log.Warn("Iteration failed, retrying", "error", err, "next_attempt_in", backoff.GetInterval())
			if backoff.Wait(ctx) != nil {
				continue
			}
			backoff.IncreaseInterval()
		case err != nil:
			w.log.Error("Sync worker failed", "error", err)
			w.setState(StateFailed, err)
			return err
		case res.Outcome == OutcomeApplied:
			backoff.ResetInterval()
		default:
			backoff.ResetInterval()
			w.setState(StateIdle, nil)
			_ = backoff.Wait(ctx)
		}
	}
}

// prepare resolves dialects and creates the watermark table on first use.
func (w *Worker) prepare(ctx context.Context) error {
	if w.initialized {
		return nil
	}
	spec := w.cfg.Spec
	srcDialect, err := w.conns.Dialect(ctx, spec.Schema, cdc.Source)
	if err != nil {
		return err
	}
	tgtDialect, err := w.conns.Dialect(ctx, spec.Schema, cdc.Target)
	if err != nil {
		return err
	}

	store := NewWatermarkStore(spec.Table, tgtDialect, w.log)
	conn, err := w.conns.Conn(ctx, spec.Schema, cdc.Target)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := store.Initialize(ctx, conn); err != nil {
		return cdc.ConnectionError(spec.Schema, spec.Table, "initialize watermark", err)
	}

	w.reader = newJournalReader(spec, srcDialect)
	w.applier = newApplier(spec, tgtDialect)
	w.store = store
	w.initialized = true
	return nil
}

// RunOnce performs a single poll-and-apply iteration.
func (w *Worker) RunOnce(ctx context.Context) (IterationResult, error) {
	res, err := w.runOnce(ctx)
	table := w.cfg.Spec.Table
	if err != nil {
		w.metrics.ObserveIteration(table, metrics.OutcomeError, 0, 0)
		w.update(func(st *Status) {
			st.Iterations++
			st.LastError = err.Error()
		})
		return res, err
	}
	w.metrics.ObserveIteration(table, string(res.Outcome), res.Watermark, res.JournalMax)
	w.metrics.ObserveApplied(table, res.Inserted, res.Updated)
	w.update(func(st *Status) {
		st.Iterations++
		st.Watermark = res.Watermark
		st.JournalMax = res.JournalMax
		st.RowsApplied += int64(res.Inserted + res.Updated)
		st.LastError = ""
	})
	return res, nil
}

func (w *Worker) runOnce(ctx context.Context) (IterationResult, error) {
	spec := w.cfg.Spec
	if err := w.prepare(ctx); err != nil {
		return IterationResult{}, err
	}

	target, err := w.conns.Conn(ctx, spec.Schema, cdc.Target)
	if err != nil {
		return IterationResult{}, err
	}
	defer target.Close()

	watermark, err := w.store.Load(ctx, target)
	if err != nil {
		return IterationResult{}, cdc.ConnectionError(spec.Schema, spec.Table, "read watermark", err)
	}

	journalMax, rows, skipTo, err := w.readWindow(ctx, watermark)
	if err != nil {
		return IterationResult{}, err
	}
	res := IterationResult{Outcome: OutcomeIdle, Watermark: watermark, JournalMax: journalMax}
	if journalMax <= watermark {
		w.log.Trace("No changes found", "watermark", watermark)
		return res, nil
	}

	// The batch must commit as a whole even if shutdown starts meanwhile.
	applyCtx := context.WithoutCancel(ctx)

	if len(rows) == 0 {
		to := skipTo
		if err := w.commit(applyCtx, target, func(tx *sql.Tx) error {
			return w.store.Advance(applyCtx, tx, watermark, to)
		}); err != nil {
			return res, err
		}
		w.log.Debug("Skipped empty journal window", "from", watermark, "to", to)
		res.Outcome, res.Watermark = OutcomeSkipped, to
		return res, nil
	}

	if w.transform != nil {
		for i := range rows {
			if err := w.transform(spec, &rows[i]); err != nil {
				return res, errors.Wrapf(err, "transform %s row %d", spec.Table, rows[i].SyncID)
			}
		}
	}

	w.setState(StateApplying, nil)
	to := rows[len(rows)-1].SyncID
	var inserted, updated int
	err = w.commit(applyCtx, target, func(tx *sql.Tx) error {
		var err error
		if inserted, updated, err = w.applier.apply(applyCtx, tx, rows); err != nil {
			return err
		}
		return w.store.Advance(applyCtx, tx, watermark, to)
	})
	if err != nil {
		return res, err
	}

	w.log.Info("Applied journal window", "from", watermark, "to", to, "inserted", inserted, "updated", updated)
	res.Outcome, res.Watermark = OutcomeApplied, to
	res.Inserted, res.Updated = inserted, updated
	return res, nil
}

// readWindow reads the journal max and the next window, releasing the source
// connection before anything is written to the target. When the window is
// empty although the journal is ahead, skipTo is the id just below the next
// journal row, capped at the journal max.
func (w *Worker) readWindow(ctx context.Context, watermark int64) (journalMax int64, rows []JournalRow, skipTo int64, err error) {
	spec := w.cfg.Spec
	source, err := w.conns.Conn(ctx, spec.Schema, cdc.Source)
	if err != nil {
		return 0, nil, 0, err
	}
	defer source.Close()

	journalMax, err = w.reader.Max(ctx, source)
	if err != nil {
		return 0, nil, 0, cdc.ConnectionError(spec.Schema, spec.Table, "read journal max", err)
	}
	if journalMax <= watermark {
		return journalMax, nil, 0, nil
	}
	rows, err = w.reader.Window(ctx, source, watermark, watermark+int64(w.cfg.BatchSize))
	if err != nil {
		return 0, nil, 0, cdc.ConnectionError(spec.Schema, spec.Table, "read journal window", err)
	}
	if len(rows) > 0 {
		return journalMax, rows, 0, nil
	}

	next, err := w.reader.Next(ctx, source, watermark)
	if err != nil {
		return 0, nil, 0, cdc.ConnectionError(spec.Schema, spec.Table, "read next journal id", err)
	}
	skipTo = journalMax
	if next > watermark && next-1 < journalMax {
		skipTo = next - 1
	}
	return journalMax, nil, skipTo, nil
}

// commit runs fn in a target transaction. Any failure rolls everything back.
func (w *Worker) commit(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	spec := w.cfg.Spec
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return cdc.ConnectionError(spec.Schema, spec.Table, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			w.log.Error("Rollback failed", "error", rbErr)
		}
		return cdc.BatchExecutionError(spec.Schema, spec.Table, "apply window", err)
	}
	if err := tx.Commit(); err != nil {
		return cdc.BatchExecutionError(spec.Schema, spec.Table, "commit window", err)
	}
	return nil
}
