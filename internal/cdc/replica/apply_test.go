package replica

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

func orderLinesSpec() cdc.TableSyncSpec {
	return cdc.TableSyncSpec{
		Table:  "ORDER_LINES",
		Schema: "shop",
		Columns: []cdc.ColumnDescriptor{
			{Name: "ORDER_ID", TypeName: "INTEGER", Ordinal: 1},
			{Name: "QTY", TypeName: "INTEGER", Ordinal: 2},
			{Name: "LINE", TypeName: "INTEGER", Ordinal: 3},
			{Name: "NOTE", TypeName: "VARCHAR", Size: 40, Ordinal: 4},
		},
		PrimaryKeys: []string{"ORDER_ID", "LINE"},
	}
}

func TestApplierStatements(t *testing.T) {
	cases := []struct {
		dialect                 db.Dialect
		exists, insert, update string
	}{
		{
			dialect: db.Postgres,
			exists:  "SELECT COUNT(*) FROM ORDER_LINES WHERE ORDER_ID = $1 AND LINE = $2",
			insert:  "INSERT INTO ORDER_LINES (ORDER_ID, QTY, LINE, NOTE) VALUES ($1, $2, $3, $4)",
			update:  "UPDATE ORDER_LINES SET QTY = $1, NOTE = $2 WHERE ORDER_ID = $3 AND LINE = $4",
		},
		{
			dialect: db.MSSQL,
			exists:  "SELECT COUNT(*) FROM ORDER_LINES WHERE ORDER_ID = @p1 AND LINE = @p2",
			insert:  "INSERT INTO ORDER_LINES (ORDER_ID, QTY, LINE, NOTE) VALUES (@p1, @p2, @p3, @p4)",
			update:  "UPDATE ORDER_LINES SET QTY = @p1, NOTE = @p2 WHERE ORDER_ID = @p3 AND LINE = @p4",
		},
		{
			dialect: db.Oracle,
			exists:  "SELECT COUNT(*) FROM ORDER_LINES WHERE ORDER_ID = :1 AND LINE = :2",
			insert:  "INSERT INTO ORDER_LINES (ORDER_ID, QTY, LINE, NOTE) VALUES (:1, :2, :3, :4)",
			update:  "UPDATE ORDER_LINES SET QTY = :1, NOTE = :2 WHERE ORDER_ID = :3 AND LINE = :4",
		},
		{
			dialect: db.MySQL,
			exists:  "SELECT COUNT(*) FROM ORDER_LINES WHERE ORDER_ID = ? AND LINE = ?",
			insert:  "INSERT INTO ORDER_LINES (ORDER_ID, QTY, LINE, NOTE) VALUES (?, ?, ?, ?)",
			update:  "UPDATE ORDER_LINES SET QTY = ?, NOTE = ? WHERE ORDER_ID = ? AND LINE = ?",
		},
	}
	for _, tc := range cases {
		t.Run(tc.dialect.String(), func(t *testing.T) {
			a := newApplier(orderLinesSpec(), tc.dialect)
			assert.Equal(t, tc.exists, a.existsSQL)
			assert.Equal(t, tc.insert, a.insertSQL)
			assert.Equal(t, tc.update, a.updateSQL)
		})
	}
}

func TestApplierArgumentOrder(t *testing.T) {
	a := newApplier(orderLinesSpec(), db.Postgres)
	values := []any{int64(7), int64(3), int64(2), "gift"}

	assert.Equal(t, []any{int64(7), int64(2)}, pick(values, a.keyIdx))
	assert.Equal(t, []any{int64(3), "gift"}, pick(values, a.nonKeyIdx))
}

func TestApplierAllKeyTableHasNoUpdate(t *testing.T) {
	spec := cdc.TableSyncSpec{
		Table: "TAGS",
		Columns: []cdc.ColumnDescriptor{
			{Name: "ITEM", Ordinal: 1},
			{Name: "TAG", Ordinal: 2},
		},
		PrimaryKeys: []string{"ITEM", "TAG"},
	}
	a := newApplier(spec, db.MSSQL)
	assert.Empty(t, a.updateSQL)
	assert.Equal(t, "SELECT COUNT(*) FROM TAGS WHERE ITEM = @p1 AND TAG = @p2", a.existsSQL)
}
