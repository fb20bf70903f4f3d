package replica

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katasec/dstream-sync/internal/cdc/ddl"
	"github.com/katasec/dstream-sync/internal/config"
	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

const itemsDDL = "CREATE TABLE ITEMS (ID VARCHAR(10) PRIMARY KEY, NAME VARCHAR(40), V INTEGER)"

func sqliteDSN(dir, name string) string {
	return filepath.Join(dir, name) + "?_pragma=busy_timeout(5000)"
}

// fixture is a provisioned source database with one or more target databases,
// each reachable as its own schema through a Router.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	router *db.Router
	spec   cdc.TableSyncSpec
}

func newFixture(t *testing.T, targets ...string) *fixture {
	t.Helper()
	if len(targets) == 0 {
		targets = []string{"app"}
	}
	dir := t.TempDir()
	var schemas []config.SchemaConfig
	for _, name := range targets {
		schemas = append(schemas, config.SchemaConfig{
			Name:   name,
			Tables: []string{"ITEMS"},
			Source: config.DataSource{Driver: "sqlite", DSN: sqliteDSN(dir, "source.db"), MaxOpenConns: 1},
			Target: config.DataSource{Driver: "sqlite", DSN: sqliteDSN(dir, name+"-target.db"), MaxOpenConns: 1},
		})
	}
	f := &fixture{t: t, ctx: context.Background(), router: db.NewRouter(schemas)}
	t.Cleanup(func() { _ = f.router.Close() })

	f.exec(targets[0], cdc.Source, itemsDDL)
	for _, name := range targets {
		f.exec(name, cdc.Target, itemsDDL)
		f.exec(name, cdc.Target, "CREATE TABLE CTL (FAIL INTEGER NOT NULL)")
		f.exec(name, cdc.Target, "INSERT INTO CTL (FAIL) VALUES (0)")
		// Fails the apply of key 'b' while CTL.FAIL is set.
		f.exec(name, cdc.Target, `CREATE TRIGGER ITEMS_FAIL_INS BEFORE INSERT ON ITEMS
			WHEN NEW.ID = 'b' AND (SELECT FAIL FROM CTL) = 1
			BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
		f.exec(name, cdc.Target, `CREATE TRIGGER ITEMS_FAIL_UPD BEFORE UPDATE ON ITEMS
			WHEN NEW.ID = 'b' AND (SELECT FAIL FROM CTL) = 1
			BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	}

	conn, err := f.router.Conn(f.ctx, targets[0], cdc.Source)
	require.NoError(t, err)
	catalog, err := db.NewCatalog(db.SQLite)
	require.NoError(t, err)
	f.spec, err = catalog.Describe(f.ctx, conn, targets[0], "ITEMS")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	stmts, err := ddl.Generate(f.spec, db.SQLite, db.SQLite)
	require.NoError(t, err)
	for _, s := range ddl.Filter(stmts, cdc.Source) {
		f.exec(targets[0], cdc.Source, s.Text)
	}
	for _, name := range targets {
		for _, s := range ddl.Filter(stmts, cdc.Target) {
			f.exec(name, cdc.Target, s.Text)
		}
	}
	return f
}

func (f *fixture) exec(schema string, side cdc.Side, query string, args ...any) {
	f.t.Helper()
	conn, err := f.router.Conn(f.ctx, schema, side)
	require.NoError(f.t, err)
	defer conn.Close()
	_, err = conn.ExecContext(f.ctx, query, args...)
	require.NoError(f.t, err, query)
}

func (f *fixture) source(query string, args ...any) {
	f.t.Helper()
	f.exec(f.spec.Schema, cdc.Source, query, args...)
}

func (f *fixture) failTarget(schema string, fail bool) {
	v := 0
	if fail {
		v = 1
	}
	f.exec(schema, cdc.Target, "UPDATE CTL SET FAIL = ?", v)
}

// rows returns the target table as "ID=NAME/V" strings ordered by ID.
func (f *fixture) rows(schema string) []string {
	f.t.Helper()
	conn, err := f.router.Conn(f.ctx, schema, cdc.Target)
	require.NoError(f.t, err)
	defer conn.Close()
	rs, err := conn.QueryContext(f.ctx, "SELECT ID, COALESCE(NAME, ''), COALESCE(V, 0) FROM ITEMS ORDER BY ID")
	require.NoError(f.t, err)
	defer rs.Close()
	var out []string
	for rs.Next() {
		var id, name string
		var v int64
		require.NoError(f.t, rs.Scan(&id, &name, &v))
		out = append(out, id+"="+name+"/"+itoa(v))
	}
	require.NoError(f.t, rs.Err())
	return out
}

func (f *fixture) watermark(schema string) int64 {
	f.t.Helper()
	conn, err := f.router.Conn(f.ctx, schema, cdc.Target)
	require.NoError(f.t, err)
	defer conn.Close()
	var w int64
	require.NoError(f.t, conn.QueryRowContext(f.ctx, "SELECT SYNC_ID FROM ITEMS_SYNC_VERSION").Scan(&w))
	return w
}

func (f *fixture) worker(schema string, batchSize int, opts ...Option) *Worker {
	spec := f.spec
	spec.Schema = schema
	return NewWorker(Config{
		Spec:            spec,
		BatchSize:       batchSize,
		PollInterval:    10 * time.Millisecond,
		MaxPollInterval: 40 * time.Millisecond,
	}, f.router, opts...)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
