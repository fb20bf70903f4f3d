package cdc

import "strings"

// Side tells which database of a schema pair a statement or connection belongs to.
type Side string

const (
	// Source is the database whose table is being captured.
	Source Side = "source"
	// Target is the database the captured rows are applied to.
	Target Side = "target"
)

// ColumnDescriptor describes one column of a replicated table.
type ColumnDescriptor struct {
	Name     string  `json:"name"`
	TypeName string  `json:"type_name"`
	Size     int64   `json:"size,omitempty"`  // length or precision, 0 when not applicable
	Scale    int64   `json:"scale,omitempty"` // numeric scale
	Default  *string `json:"default,omitempty"`
	Ordinal  int     `json:"ordinal"`
}

// TableSyncSpec is the catalog snapshot of a table taken at bootstrap.
// It is never mutated after construction; a source schema change requires a new bootstrap.
type TableSyncSpec struct {
	Table       string             `json:"table"`
	Schema      string             `json:"schema"`
	Columns     []ColumnDescriptor `json:"columns"`
	PrimaryKeys []string           `json:"primary_keys"`
}

// IsPrimaryKey reports whether the named column is part of the primary key.
// Catalogs disagree on case, so the comparison is case-insensitive.
func (s TableSyncSpec) IsPrimaryKey(column string) bool {
	for _, pk := range s.PrimaryKeys {
		if strings.EqualFold(pk, column) {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in declared order.
func (s TableSyncSpec) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyColumns returns the primary-key columns in declared order.
func (s TableSyncSpec) KeyColumns() []ColumnDescriptor {
	var out []ColumnDescriptor
	for _, c := range s.Columns {
		if s.IsPrimaryKey(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// NonKeyColumns returns the columns outside the primary key in declared order.
func (s TableSyncSpec) NonKeyColumns() []ColumnDescriptor {
	var out []ColumnDescriptor
	for _, c := range s.Columns {
		if !s.IsPrimaryKey(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// SQLStatement is one generated provisioning statement.
type SQLStatement struct {
	Schema string `json:"schema"`
	Text   string `json:"text"`
	Kind   Side   `json:"kind"`
}
