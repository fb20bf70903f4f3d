package replica

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/katasec/dstream-sync/internal/cdc/ddl"
	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

// JournalRow is the latest journal version of one key inside a window.
// Values follow the table's declared column order.
type JournalRow struct {
	SyncID int64
	Values []any
}

// journalReader reads windows of a table's source journal.
type journalReader struct {
	spec      cdc.TableSyncSpec
	names     ddl.Names
	maxQuery  string
	nextQuery string
	windowSQL string
}

func newJournalReader(spec cdc.TableSyncSpec, d db.Dialect) *journalReader {
	n := ddl.NamesFor(spec.Table)
	keys := make([]string, 0, len(spec.PrimaryKeys))
	for _, c := range spec.KeyColumns() {
		keys = append(keys, c.Name)
	}
	cols := strings.Join(spec.ColumnNames(), ", ")

	// Only the highest SYNC_ID of every key survives the window.
	windowSQL := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s IN (SELECT MAX(%s) FROM %s WHERE %s > %s AND %s <= %s GROUP BY %s) ORDER BY %s",
		cols, ddl.SyncIDColumn, n.Journal,
		ddl.SyncIDColumn, ddl.SyncIDColumn, n.Journal,
		ddl.SyncIDColumn, d.Placeholder(1), ddl.SyncIDColumn, d.Placeholder(2),
		strings.Join(keys, ", "), ddl.SyncIDColumn)

	return &journalReader{
		spec:      spec,
		names:     n,
		maxQuery:  fmt.Sprintf("SELECT MAX(%s) FROM %s", ddl.SyncIDColumn, n.Journal),
		nextQuery: fmt.Sprintf("SELECT MIN(%s) FROM %s WHERE %s > %s", ddl.SyncIDColumn, n.Journal, ddl.SyncIDColumn, d.Placeholder(1)),
		windowSQL: windowSQL,
	}
}

// Max returns the highest journal id, 0 for an empty journal.
func (r *journalReader) Max(ctx context.Context, q db.Querier) (int64, error) {
	var m sql.NullInt64
	if err := q.QueryRowContext(ctx, r.maxQuery).Scan(&m); err != nil {
		return 0, fmt.Errorf("failed to read max %s of %s: %w", ddl.SyncIDColumn, r.names.Journal, err)
	}
	return m.Int64, nil
}

// Next returns the lowest journal id above after, 0 when there is none.
func (r *journalReader) Next(ctx context.Context, q db.Querier, after int64) (int64, error) {
	var m sql.NullInt64
	if err := q.QueryRowContext(ctx, r.nextQuery, after).Scan(&m); err != nil {
		return 0, fmt.Errorf("failed to read next %s of %s: %w", ddl.SyncIDColumn, r.names.Journal, err)
	}
	return m.Int64, nil
}

// Window returns the deduplicated rows with from < SYNC_ID <= to, ordered by SYNC_ID.
func (r *journalReader) Window(ctx context.Context, q db.Querier, from, to int64) ([]JournalRow, error) {
	rows, err := q.QueryContext(ctx, r.windowSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.names.Journal, err)
	}
	defer rows.Close()

	var out []JournalRow
	n := len(r.spec.Columns)
	for rows.Next() {
		row := JournalRow{Values: make([]any, n)}
		dest := make([]any, n+1)
		for i := range row.Values {
			dest[i] = &row.Values[i]
		}
		dest[n] = &row.SyncID
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.names.Journal, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.names.Journal, err)
	}
	return out, nil
}
