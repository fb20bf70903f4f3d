package ddl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

var (
	lengthTypes = map[string]bool{
		"char": true, "varchar": true, "nchar": true, "nvarchar": true,
		"character": true, "character varying": true, "varchar2": true, "nvarchar2": true,
		"binary": true, "varbinary": true, "raw": true, "bit varying": true,
	}
	precisionTypes = map[string]bool{
		"decimal": true, "numeric": true, "number": true, "dec": true,
	}
	// fractionalTypes take a fractional-second precision. SQL Server datetime is
	// left out: its precision is fixed and cannot be declared.
	fractionalTypes = map[string]bool{
		"time": true, "timestamp": true, "datetime2": true, "datetimeoffset": true,
	}
	literalDefault = regexp.MustCompile(`^(-?\d+(\.\d+)?|'([^']|'')*')$`)
)

// columnType renders the declared type of a column for a journal table in the
// same database as the source table.
func columnType(c cdc.ColumnDescriptor, d db.Dialect) string {
	name := strings.TrimSpace(c.TypeName)
	if name == "" || strings.Contains(name, "(") {
		return name
	}
	lower := strings.ToLower(name)
	switch {
	case lengthTypes[lower] && d == db.MSSQL && c.Size == -1:
		return name + "(MAX)"
	case lengthTypes[lower] && c.Size > 0:
		return fmt.Sprintf("%s(%d)", name, c.Size)
	case precisionTypes[lower] && c.Size > 0 && c.Scale > 0:
		return fmt.Sprintf("%s(%d,%d)", name, c.Size, c.Scale)
	case precisionTypes[lower] && c.Size > 0:
		return fmt.Sprintf("%s(%d)", name, c.Size)
	case fractionalTypes[lower] && d == db.DB2 && c.Scale > 0:
		return fmt.Sprintf("%s(%d)", name, c.Scale)
	case fractionalTypes[lower] && c.Size > 0 && d != db.Postgres && d != db.DB2:
		return fmt.Sprintf("%s(%d)", name, c.Size)
	}
	return name
}

// columnDefinition renders "name type [DEFAULT literal]". Only literal defaults
// are carried over; expressions such as sequence calls must not run on the journal.
func columnDefinition(c cdc.ColumnDescriptor, d db.Dialect) string {
	def := strings.TrimSpace(c.Name + " " + columnType(c, d))
	if c.Default != nil && literalDefault.MatchString(strings.TrimSpace(*c.Default)) {
		def += " DEFAULT " + strings.TrimSpace(*c.Default)
	}
	return def
}

func columnList(spec cdc.TableSyncSpec) string {
	return strings.Join(spec.ColumnNames(), ", ")
}

// prefixedColumns renders "<prefix>c1, <prefix>c2", e.g. "NEW.c1, NEW.c2".
func prefixedColumns(spec cdc.TableSyncSpec, prefix string) string {
	cols := spec.ColumnNames()
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}
