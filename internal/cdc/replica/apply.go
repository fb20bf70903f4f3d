package replica

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

// applier writes journal rows to the target table inside one transaction.
type applier struct {
	table     string
	keyIdx    []int
	nonKeyIdx []int

	existsSQL string
	insertSQL string
	updateSQL string // empty when every column is part of the key
}

func newApplier(spec cdc.TableSyncSpec, d db.Dialect) *applier {
	a := &applier{table: spec.Table}
	var sets []string
	for i, c := range spec.Columns {
		if spec.IsPrimaryKey(c.Name) {
			a.keyIdx = append(a.keyIdx, i)
		} else {
			a.nonKeyIdx = append(a.nonKeyIdx, i)
		}
	}
	for i, idx := range a.nonKeyIdx {
		sets = append(sets, fmt.Sprintf("%s = %s", spec.Columns[idx].Name, d.Placeholder(i+1)))
	}

	where := func(from int) string {
		var keys []string
		for i, idx := range a.keyIdx {
			keys = append(keys, fmt.Sprintf("%s = %s", spec.Columns[idx].Name, d.Placeholder(from+i)))
		}
		return strings.Join(keys, " AND ")
	}

	a.existsSQL = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", spec.Table, where(1))
	a.insertSQL = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.Table, strings.Join(spec.ColumnNames(), ", "), d.Placeholders(1, len(spec.Columns)))
	if len(sets) > 0 {
		a.updateSQL = fmt.Sprintf("UPDATE %s SET %s WHERE %s", spec.Table, strings.Join(sets, ", "), where(len(sets)+1))
	}
	return a
}

func pick(values []any, idx []int) []any {
	out := make([]any, 0, len(idx))
	for _, i := range idx {
		out = append(out, values[i])
	}
	return out
}

// split decides per row whether the key already exists at the target.
func (a *applier) split(ctx context.Context, tx *sql.Tx, rows []JournalRow) (inserts, updates []JournalRow, err error) {
	for _, r := range rows {
		var n int64
		if err := tx.QueryRowContext(ctx, a.existsSQL, pick(r.Values, a.keyIdx)...).Scan(&n); err != nil {
			return nil, nil, errors.Wrapf(err, "look up key of %s row %d", a.table, r.SyncID)
		}
		if n > 0 {
			updates = append(updates, r)
		} else {
			inserts = append(inserts, r)
		}
	}
	return inserts, updates, nil
}

// apply runs the insert batch then the update batch.
func (a *applier) apply(ctx context.Context, tx *sql.Tx, rows []JournalRow) (inserted, updated int, err error) {
	inserts, updates, err := a.split(ctx, tx, rows)
	if err != nil {
		return 0, 0, err
	}

	if len(inserts) > 0 {
		stmt, err := tx.PrepareContext(ctx, a.insertSQL)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "prepare insert into %s", a.table)
		}
		defer stmt.Close()
		for _, r := range inserts {
			if _, err := stmt.ExecContext(ctx, r.Values...); err != nil {
				return 0, 0, errors.Wrapf(err, "insert %s row %d", a.table, r.SyncID)
			}
		}
	}

	if a.updateSQL == "" {
		// Nothing to set: an existing key already holds every value.
		updates = nil
	}
	if len(updates) > 0 {
		stmt, err := tx.PrepareContext(ctx, a.updateSQL)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "prepare update of %s", a.table)
		}
		defer stmt.Close()
		for _, r := range updates {
			args := append(pick(r.Values, a.nonKeyIdx), pick(r.Values, a.keyIdx)...)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, 0, errors.Wrapf(err, "update %s row %d", a.table, r.SyncID)
			}
		}
	}
	return len(inserts), len(updates), nil
}
