package db

import (
	"fmt"
	"strings"
)

// Dialect is a SQL syntax variant.
type Dialect string

const (
	Unknown  Dialect = ""
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgresql"
	MSSQL    Dialect = "mssql"
	Oracle   Dialect = "oracle"
	DB2      Dialect = "db2"
	H2       Dialect = "h2"
	SQLite   Dialect = "sqlite"
)

// Dialects lists every supported dialect.
var Dialects = []Dialect{MySQL, Postgres, MSSQL, Oracle, DB2, H2, SQLite}

// ParseProduct maps a database product or version banner to a dialect,
// e.g. "Microsoft SQL Server 2019 (RTM) ..." or "PostgreSQL 15.3 on x86_64".
func ParseProduct(product string) Dialect {
	p := strings.ToLower(strings.TrimSpace(product))
	switch {
	case p == "":
		return Unknown
	case strings.Contains(p, "microsoft sql server"):
		return MSSQL
	case strings.Contains(p, "postgresql"):
		return Postgres
	case strings.Contains(p, "mysql"), strings.Contains(p, "mariadb"):
		return MySQL
	case strings.Contains(p, "oracle"):
		return Oracle
	case strings.Contains(p, "db2"):
		return DB2
	case strings.Contains(p, "sqlite"):
		return SQLite
	case p == "h2", strings.HasPrefix(p, "h2 "):
		return H2
	}
	return Unknown
}

// FromDriver maps a database/sql driver name to its dialect.
func FromDriver(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "mysql":
		return MySQL
	case "pgx", "postgres", "postgresql":
		return Postgres
	case "sqlserver", "mssql":
		return MSSQL
	case "oracle", "godror", "oci8":
		return Oracle
	case "go_ibm_db", "db2":
		return DB2
	case "sqlite", "sqlite3":
		return SQLite
	}
	return Unknown
}

// FoldIdentifier normalises an unquoted identifier the way the dialect stores it
// in its catalog, so that catalog lookups match.
func (d Dialect) FoldIdentifier(name string) string {
	switch d {
	case Postgres:
		return strings.ToLower(name)
	case Oracle, DB2, H2:
		return strings.ToUpper(name)
	}
	return name
}

// Placeholder returns the positional bind marker for argument n (1-based).
func (d Dialect) Placeholder(n int) string {
	switch d {
	case Postgres:
		return fmt.Sprintf("$%d", n)
	case MSSQL:
		return fmt.Sprintf("@p%d", n)
	case Oracle:
		return fmt.Sprintf(":%d", n)
	}
	return "?"
}

// Placeholders returns count markers starting at argument from, comma separated.
func (d Dialect) Placeholders(from, count int) string {
	marks := make([]string, count)
	for i := range marks {
		marks[i] = d.Placeholder(from + i)
	}
	return strings.Join(marks, ", ")
}

// ScriptFraming holds the text that frames statements in a script file.
type ScriptFraming struct {
	Prefix    string
	Separator string // written after every statement
	Suffix    string
}

// Framing returns the script framing for the dialect.
// Only the script-writing path uses it; live execution sends statements one by one.
func (d Dialect) Framing() ScriptFraming {
	switch d {
	case MySQL:
		return ScriptFraming{Prefix: "DELIMITER //\n\n", Separator: "\n//\n\n", Suffix: "DELIMITER ;\n"}
	case Oracle, DB2:
		return ScriptFraming{Separator: "\n/\n\n"}
	case MSSQL:
		return ScriptFraming{Separator: "\nGO\n\n"}
	}
	return ScriptFraming{Separator: ";\n\n"}
}

// String implements fmt.Stringer.
func (d Dialect) String() string {
	if d == Unknown {
		return "unknown"
	}
	return string(d)
}
