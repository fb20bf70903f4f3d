package cdc

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failure by how the engine reacts to it.
type ErrorKind string

const (
	// KindCatalog means columns or primary keys could not be introspected.
	// Fatal to the bootstrap of that table only.
	KindCatalog ErrorKind = "catalog"

	// KindConnection means a source or target connection could not be used.
	// Fatal to the current iteration only.
	KindConnection ErrorKind = "connection"

	// KindBatchExecution means a statement of the apply transaction failed.
	// The window is rolled back and retried.
	KindBatchExecution ErrorKind = "batch_execution"

	// KindScriptWrite means a generated script could not be written.
	KindScriptWrite ErrorKind = "script_write"

	// KindConfig means the configuration is invalid.
	KindConfig ErrorKind = "config"

	// KindUnsupportedDialect means no SQL variant is known for a database.
	KindUnsupportedDialect ErrorKind = "unsupported_dialect"
)

// Error is a classified engine failure.
type Error struct {
	Kind   ErrorKind
	Schema string
	Table  string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " " + e.Op
	}
	switch {
	case e.Schema != "" && e.Table != "":
		msg += fmt.Sprintf(" [%s.%s]", e.Schema, e.Table)
	case e.Schema != "":
		msg += fmt.Sprintf(" [%s]", e.Schema)
	case e.Table != "":
		msg += fmt.Sprintf(" [%s]", e.Table)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, schema, table, op string, err error) error {
	return &Error{Kind: kind, Schema: schema, Table: table, Op: op, Err: errors.WithStack(err)}
}

// CatalogError wraps a catalog introspection failure.
func CatalogError(schema, table, op string, err error) error {
	return newError(KindCatalog, schema, table, op, err)
}

// ConnectionError wraps a failure to obtain or use a connection.
func ConnectionError(schema, table, op string, err error) error {
	return newError(KindConnection, schema, table, op, err)
}

// BatchExecutionError wraps a failure inside the apply transaction.
func BatchExecutionError(schema, table, op string, err error) error {
	return newError(KindBatchExecution, schema, table, op, err)
}

// ScriptWriteError wraps a failure to write a generated script.
func ScriptWriteError(schema, path string, err error) error {
	return newError(KindScriptWrite, schema, "", "write "+path, err)
}

// ConfigError wraps an invalid configuration value.
func ConfigError(op string, err error) error {
	return newError(KindConfig, "", "", op, err)
}

// UnsupportedDialectError reports a dialect the engine has no SQL variant for.
func UnsupportedDialectError(schema string, side Side, product string) error {
	return &Error{
		Kind:   KindUnsupportedDialect,
		Schema: schema,
		Op:     string(side),
		Err:    errors.Errorf("unsupported database product %q", product),
	}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Retryable reports whether the loop can heal from err by retrying the iteration.
func Retryable(err error) bool {
	return IsKind(err, KindConnection) || IsKind(err, KindBatchExecution)
}
