package replica

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/katasec/dstream-sync/internal/cdc/ddl"
	"github.com/katasec/dstream-sync/internal/db"
)

// WatermarkStore persists the last applied journal id of one table in its
// target-side watermark table. The owning worker is its only writer.
type WatermarkStore struct {
	table   string
	names   ddl.Names
	dialect db.Dialect
	log     hclog.Logger
}

// NewWatermarkStore creates a store for table on a target of dialect d.
func NewWatermarkStore(table string, d db.Dialect, log hclog.Logger) *WatermarkStore {
	return &WatermarkStore{
		table:   table,
		names:   ddl.NamesFor(table),
		dialect: d,
		log:     log,
	}
}

// Initialize creates the watermark table if it does not exist.
func (s *WatermarkStore) Initialize(ctx context.Context, e db.Execer) error {
	stmt, err := ddl.CreateWatermark(s.table, s.dialect)
	if err != nil {
		return err
	}
	if _, err := e.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.names.Watermark, err)
	}
	s.log.Debug("Initialized watermark table", "watermark_table", s.names.Watermark)
	return nil
}

// Load returns the stored watermark. An empty table is bootstrapped with a 0 row.
func (s *WatermarkStore) Load(ctx context.Context, e db.Execer) (int64, error) {
	var w sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", ddl.SyncIDColumn, s.names.Watermark)
	if err := e.QueryRowContext(ctx, query).Scan(&w); err != nil {
		return 0, fmt.Errorf("failed to load watermark for %s: %w", s.table, err)
	}
	if w.Valid {
		return w.Int64, nil
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (0)", s.names.Watermark, ddl.SyncIDColumn)
	if _, err := e.ExecContext(ctx, insert); err != nil {
		return 0, fmt.Errorf("failed to bootstrap watermark for %s: %w", s.table, err)
	}
	s.log.Info("No previous watermark, starting from 0")
	return 0, nil
}

// Advance moves the watermark from the loaded value from forward to id. It
// never moves it back: the update is guarded so an older value cannot
// overwrite a newer one. Moving forward without touching a row means the
// watermark row is gone or was moved by someone else, and is an error so the
// enclosing transaction rolls back.
func (s *WatermarkStore) Advance(ctx context.Context, e db.Execer, from, id int64) error {
	update := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s < %s",
		s.names.Watermark, ddl.SyncIDColumn, s.dialect.Placeholder(1), ddl.SyncIDColumn, s.dialect.Placeholder(2))
	result, err := e.ExecContext(ctx, update, id, id)
	if err != nil {
		return errors.Wrapf(err, "advance watermark of %s to %d", s.table, id)
	}
	if id <= from {
		return nil
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "advance watermark of %s to %d", s.table, id)
	}
	if n == 0 {
		return errors.Errorf("watermark of %s changed underneath: no row below %d to advance from %d", s.table, id, from)
	}
	return nil
}
