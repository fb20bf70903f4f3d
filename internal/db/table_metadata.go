package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/katasec/dstream-sync/pkg/cdc"
)

// catalogQueries holds the two metadata queries of a dialect. Both take the
// (folded) table name as their only argument.
// columns must yield: name, type name, size, scale, default. Size is the
// length, numeric precision or fractional-second precision.
type catalogQueries struct {
	columns     string
	primaryKeys string
}

var informationSchema = catalogQueries{
	columns: `SELECT COLUMN_NAME, DATA_TYPE,
		COALESCE(CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, DATETIME_PRECISION, 0),
		COALESCE(NUMERIC_SCALE, 0), COLUMN_DEFAULT
	FROM INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s
	ORDER BY ORDINAL_POSITION`,
	primaryKeys: `SELECT kcu.COLUMN_NAME
	FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
	JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
	  ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
	 AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
	 AND tc.TABLE_NAME = kcu.TABLE_NAME
	WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
	  AND tc.TABLE_SCHEMA = %s AND tc.TABLE_NAME = %s
	ORDER BY kcu.ORDINAL_POSITION`,
}

func infoSchemaFor(currentSchema, placeholder string) catalogQueries {
	return catalogQueries{
		columns:     fmt.Sprintf(informationSchema.columns, currentSchema, placeholder),
		primaryKeys: fmt.Sprintf(informationSchema.primaryKeys, currentSchema, placeholder),
	}
}

// mysqlColumns reads COLUMN_TYPE, the full declared type: enum and set value
// lists, unsigned and fractional seconds are all part of it.
const mysqlColumns = `SELECT COLUMN_NAME, COLUMN_TYPE,
		COALESCE(CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, DATETIME_PRECISION, 0),
		COALESCE(NUMERIC_SCALE, 0), COLUMN_DEFAULT
	FROM INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
	ORDER BY ORDINAL_POSITION`

var dialectCatalogs = map[Dialect]catalogQueries{
	MySQL: {
		columns:     mysqlColumns,
		primaryKeys: infoSchemaFor("DATABASE()", "?").primaryKeys,
	},
	MSSQL: infoSchemaFor("SCHEMA_NAME()", "@p1"),
	H2:    infoSchemaFor("SCHEMA()", "?"),
	Postgres: {
		columns: `SELECT column_name,
			CASE WHEN data_type IN ('USER-DEFINED', 'ARRAY') THEN udt_name ELSE data_type END,
			COALESCE(character_maximum_length, numeric_precision, 0),
			COALESCE(numeric_scale, 0), column_default
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`,
		primaryKeys: `SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		 AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = current_schema() AND tc.table_name = $1
		ORDER BY kcu.ordinal_position`,
	},
	Oracle: {
		columns: `SELECT COLUMN_NAME, DATA_TYPE,
			COALESCE(DATA_PRECISION, CHAR_LENGTH, DATA_LENGTH, 0),
			COALESCE(DATA_SCALE, 0), DATA_DEFAULT
		FROM USER_TAB_COLUMNS
		WHERE TABLE_NAME = :1
		ORDER BY COLUMN_ID`,
		primaryKeys: `SELECT cols.COLUMN_NAME
		FROM USER_CONSTRAINTS cons
		JOIN USER_CONS_COLUMNS cols ON cons.CONSTRAINT_NAME = cols.CONSTRAINT_NAME
		WHERE cons.CONSTRAINT_TYPE = 'P' AND cons.TABLE_NAME = :1
		ORDER BY cols.POSITION`,
	},
	DB2: {
		columns: `SELECT COLNAME, TYPENAME, LENGTH, SCALE, DEFAULT
		FROM SYSCAT.COLUMNS
		WHERE TABSCHEMA = CURRENT SCHEMA AND TABNAME = ?
		ORDER BY COLNO`,
		primaryKeys: `SELECT k.COLNAME
		FROM SYSCAT.KEYCOLUSE k
		JOIN SYSCAT.TABCONST c ON k.CONSTNAME = c.CONSTNAME AND k.TABSCHEMA = c.TABSCHEMA
		WHERE c.TYPE = 'P' AND c.TABSCHEMA = CURRENT SCHEMA AND c.TABNAME = ?
		ORDER BY k.COLSEQ`,
	},
	SQLite: {
		columns:     `SELECT name, type, 0, 0, dflt_value FROM pragma_table_info(?) ORDER BY cid`,
		primaryKeys: `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`,
	},
}

// declaredSize splits "VARCHAR(255)" or "DECIMAL(10,2)" as returned by SQLite,
// which has no separate size columns.
var declaredSize = regexp.MustCompile(`^\s*([^(]+?)\s*\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\)\s*$`)

// Catalog introspects table metadata for one dialect.
type Catalog struct {
	dialect Dialect
	queries catalogQueries
}

// NewCatalog returns the catalog reader for a dialect.
func NewCatalog(d Dialect) (*Catalog, error) {
	q, ok := dialectCatalogs[d]
	if !ok {
		return nil, errors.Errorf("no catalog queries for dialect %s", d)
	}
	return &Catalog{dialect: d, queries: q}, nil
}

// Dialect returns the dialect the catalog reads.
func (c *Catalog) Dialect() Dialect { return c.dialect }

// DescribeColumns returns the table's columns in ordinal order.
func (c *Catalog) DescribeColumns(ctx context.Context, q Querier, table string) ([]cdc.ColumnDescriptor, error) {
	rows, err := q.QueryContext(ctx, c.queries.columns, c.dialect.FoldIdentifier(table))
	if err != nil {
		return nil, errors.Wrapf(err, "query columns of %s", table)
	}
	defer rows.Close()

	var columns []cdc.ColumnDescriptor
	for rows.Next() {
		var (
			name, typeName string
			size, scale    sql.NullInt64
			def            sql.NullString
		)
		if err := rows.Scan(&name, &typeName, &size, &scale, &def); err != nil {
			return nil, errors.Wrapf(err, "scan column of %s", table)
		}
		col := cdc.ColumnDescriptor{
			Name:     name,
			TypeName: strings.TrimSpace(typeName),
			Size:     size.Int64,
			Scale:    scale.Int64,
			Ordinal:  len(columns) + 1,
		}
		if m := declaredSize.FindStringSubmatch(col.TypeName); m != nil && c.dialect == SQLite {
			col.TypeName = m[1]
			col.Size, _ = strconv.ParseInt(m[2], 10, 64)
			if m[3] != "" {
				col.Scale, _ = strconv.ParseInt(m[3], 10, 64)
			}
		}
		if def.Valid {
			v := strings.TrimSpace(def.String)
			col.Default = &v
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "read columns of %s", table)
	}
	if len(columns) == 0 {
		return nil, errors.Errorf("table %s not found or has no columns", table)
	}
	return columns, nil
}

// DescribePrimaryKeys returns the table's primary-key columns in key order.
func (c *Catalog) DescribePrimaryKeys(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, c.queries.primaryKeys, c.dialect.FoldIdentifier(table))
	if err != nil {
		return nil, errors.Wrapf(err, "query primary keys of %s", table)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrapf(err, "scan primary key of %s", table)
		}
		keys = append(keys, name)
	}
	return keys, errors.Wrapf(rows.Err(), "read primary keys of %s", table)
}

// Describe builds the immutable sync spec of a table. Any failure, including a
// table without a primary key, is reported as a catalog error.
func (c *Catalog) Describe(ctx context.Context, q Querier, schema, table string) (cdc.TableSyncSpec, error) {
	columns, err := c.DescribeColumns(ctx, q, table)
	if err != nil {
		return cdc.TableSyncSpec{}, cdc.CatalogError(schema, table, "describe columns", err)
	}
	keys, err := c.DescribePrimaryKeys(ctx, q, table)
	if err != nil {
		return cdc.TableSyncSpec{}, cdc.CatalogError(schema, table, "describe primary keys", err)
	}
	if len(keys) == 0 {
		return cdc.TableSyncSpec{}, cdc.CatalogError(schema, table, "describe primary keys",
			errors.New("table has no primary key; insert and update cannot be told apart"))
	}
	return cdc.TableSyncSpec{
		Table:       table,
		Schema:      schema,
		Columns:     columns,
		PrimaryKeys: keys,
	}, nil
}
