package replica

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katasec/dstream-sync/internal/metrics"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

func TestRunOnceIdleBootstrapsWatermark(t *testing.T) {
	f := newFixture(t)
	w := f.worker("app", 10)

	res, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdle, res.Outcome)
	assert.Equal(t, int64(0), res.Watermark)
	assert.Equal(t, int64(0), f.watermark("app"))
	assert.Empty(t, f.rows("app"))
}

func TestRunOnceKeepsLatestVersionPerKey(t *testing.T) {
	f := newFixture(t)
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('A', 'alpha', 1)")
	f.source("UPDATE ITEMS SET V = 2 WHERE ID = 'A'")
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('B', 'beta', 1)")

	w := f.worker("app", 10)
	res, err := w.RunOnce(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int64(3), res.Watermark)
	assert.Equal(t, int64(3), res.JournalMax)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, []string{"A=alpha/2", "B=beta/1"}, f.rows("app"))
	assert.Equal(t, int64(3), f.watermark("app"))
}

func TestRunOnceUpdatesExistingKeys(t *testing.T) {
	f := newFixture(t)
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('A', 'alpha', 1)")
	w := f.worker("app", 10)
	_, err := w.RunOnce(f.ctx)
	require.NoError(t, err)

	f.source("UPDATE ITEMS SET NAME = 'renamed', V = 7 WHERE ID = 'A'")
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('C', 'gamma', 3)")
	res, err := w.RunOnce(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"A=renamed/7", "C=gamma/3"}, f.rows("app"))
	assert.Equal(t, int64(3), f.watermark("app"))

	st := w.Status()
	assert.Equal(t, int64(2), st.Iterations)
	assert.Equal(t, int64(3), st.RowsApplied)
}

func TestRunOnceHonoursBatchSize(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES (?, 'x', 1)", id)
	}
	w := f.worker("app", 2)

	var marks []int64
	for range 4 {
		res, err := w.RunOnce(f.ctx)
		require.NoError(t, err)
		marks = append(marks, res.Watermark)
	}
	assert.Equal(t, []int64{2, 4, 5, 5}, marks)
	assert.Len(t, f.rows("app"), 5)
}

func TestRunOnceSkipsJournalGaps(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES (?, 'x', 1)", id)
	}
	// Journal ids 1 and 2 never committed, as after a rolled-back source transaction.
	f.source("DELETE FROM ITEMS_SYNC WHERE SYNC_ID <= 2")

	w := f.worker("app", 2)
	res, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, int64(2), res.Watermark)
	assert.Empty(t, f.rows("app"))

	res, err = w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int64(4), res.Watermark)
	assert.Equal(t, []string{"a3=x/1", "a4=x/1"}, f.rows("app"))
}

func TestRunOnceSkipsWideGapInOneStep(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 40; i++ {
		f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES (?, 'x', ?)", "k"+itoa(int64(i)), i)
	}
	f.source("DELETE FROM ITEMS_SYNC WHERE SYNC_ID <= 37")

	w := f.worker("app", 2)
	res, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, int64(37), res.Watermark)

	res, err = w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int64(39), res.Watermark)
	assert.Equal(t, []string{"k38=x/38", "k39=x/39"}, f.rows("app"))
}

func TestAdvanceFailsWithoutWatermarkRow(t *testing.T) {
	f := newFixture(t)
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('A', 'alpha', 1)")
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('B', 'beta', 1)")
	w := f.worker("app", 1)
	_, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), f.watermark("app"))

	// Re-provisioning resets the watermark while the worker is between loads.
	conn, err := f.router.Conn(f.ctx, "app", cdc.Target)
	require.NoError(t, err)
	_, err = conn.ExecContext(f.ctx, "DELETE FROM ITEMS_SYNC_VERSION")
	require.NoError(t, err)
	tx, err := conn.BeginTx(f.ctx, nil)
	require.NoError(t, err)
	err = w.store.Advance(f.ctx, tx, 1, 2)
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, conn.Close())

	// The next iteration reloads, bootstraps 0 again and replays from the start.
	_, err = w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=alpha/1"}, f.rows("app"))
}

func TestFailedBatchRollsBackAndReplaysIdentically(t *testing.T) {
	f := newFixture(t, "app", "control")
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('b', 'second', 1)")
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('a', 'first', 1)")
	f.source("UPDATE ITEMS SET V = 9 WHERE ID = 'b'")

	control := f.worker("control", 10)
	_, err := control.RunOnce(f.ctx)
	require.NoError(t, err)

	f.failTarget("app", true)
	w := f.worker("app", 10)
	_, err = w.RunOnce(f.ctx)
	require.Error(t, err)
	assert.True(t, cdc.IsKind(err, cdc.KindBatchExecution))
	assert.True(t, cdc.Retryable(err))

	// Row 'a' was written before 'b' failed; nothing of the window may survive.
	assert.Empty(t, f.rows("app"))
	assert.Equal(t, int64(0), f.watermark("app"))

	f.failTarget("app", false)
	res, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	assert.Equal(t, f.rows("control"), f.rows("app"))
	assert.Equal(t, f.watermark("control"), f.watermark("app"))
	assert.Equal(t, []string{"a=first/1", "b=second/9"}, f.rows("app"))
}

func TestFailedUpdateLeavesPreviousState(t *testing.T) {
	f := newFixture(t)
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('b', 'before', 1)")
	w := f.worker("app", 10)
	_, err := w.RunOnce(f.ctx)
	require.NoError(t, err)

	f.source("UPDATE ITEMS SET NAME = 'after' WHERE ID = 'b'")
	f.failTarget("app", true)
	_, err = w.RunOnce(f.ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"b=before/1"}, f.rows("app"))
	assert.Equal(t, int64(1), f.watermark("app"))
	assert.NotEmpty(t, w.Status().LastError)
}

func TestTransformerRewritesRows(t *testing.T) {
	f := newFixture(t)
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('A', 'alpha', 1)")

	w := f.worker("app", 10, WithTransformer(func(spec cdc.TableSyncSpec, row *JournalRow) error {
		for i, c := range spec.Columns {
			if c.Name == "NAME" {
				if s, ok := row.Values[i].(string); ok {
					row.Values[i] = strings.ToUpper(s)
				}
			}
		}
		return nil
	}))
	_, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=ALPHA/1"}, f.rows("app"))
}

func TestRunConvergesAndStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	m := metrics.New()
	w := f.worker("app", 3, WithMetrics(m))

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('k1', 'one', 1)")
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('k2', 'two', 1)")
	for v := 2; v <= 6; v++ {
		f.source("UPDATE ITEMS SET V = ? WHERE ID = 'k1'", v)
	}
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('k3', 'three', 1)")

	require.Eventually(t, func() bool {
		st := w.Status()
		return st.Watermark == 8 && st.JournalMax == 8
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"k1=one/6", "k2=two/1", "k3=three/1"}, f.rows("app"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, StateStopped, w.Status().State)
}

func TestWatermarkNeverMovesBack(t *testing.T) {
	f := newFixture(t)
	f.source("INSERT INTO ITEMS (ID, NAME, V) VALUES ('A', 'alpha', 1)")
	w := f.worker("app", 10)
	_, err := w.RunOnce(f.ctx)
	require.NoError(t, err)

	conn, err := f.router.Conn(f.ctx, "app", cdc.Target)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, w.store.Advance(f.ctx, conn, 1, 0))

	got, err := w.store.Load(f.ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}
