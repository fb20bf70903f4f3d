// Package ddl generates the provisioning statements of a replicated table: the
// journal table and its capture triggers beside the source, and the watermark
// table beside the target.
//
// Generation is pure: nothing here touches a database.
package ddl

import (
	"github.com/pkg/errors"

	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

// Generate returns, in execution order, the source statements followed by the
// target statements for one table.
//
// Source: drop triggers, drop journal, create journal, create triggers.
// Target: create watermark if missing, then reset it, since a recreated
// journal restarts its SYNC_ID sequence.
func Generate(spec cdc.TableSyncSpec, source, target db.Dialect) ([]cdc.SQLStatement, error) {
	if len(spec.Columns) == 0 {
		return nil, errors.Errorf("table %s has no columns", spec.Table)
	}
	src, ok := syntaxFor(source)
	if !ok {
		return nil, cdc.UnsupportedDialectError(spec.Schema, cdc.Source, string(source))
	}
	tgt, ok := syntaxFor(target)
	if !ok {
		return nil, cdc.UnsupportedDialectError(spec.Schema, cdc.Target, string(target))
	}

	n := NamesFor(spec.Table)
	var out []cdc.SQLStatement
	add := func(kind cdc.Side, texts ...string) {
		for _, t := range texts {
			out = append(out, cdc.SQLStatement{Schema: spec.Schema, Text: t, Kind: kind})
		}
	}

	add(cdc.Source, src.dropTriggers(n)...)
	add(cdc.Source, src.dropJournal(n), src.createJournal(n, spec))
	add(cdc.Source, src.createTriggers(n, spec)...)

	add(cdc.Target, tgt.createWatermark(n), ResetWatermark(n))
	return out, nil
}

// CreateWatermark returns the idempotent watermark CREATE for a table.
func CreateWatermark(table string, d db.Dialect) (string, error) {
	s, ok := syntaxFor(d)
	if !ok {
		return "", errors.Errorf("unsupported dialect %q", d)
	}
	return s.createWatermark(NamesFor(table)), nil
}

// ResetWatermark empties the watermark table; the worker recreates the row at 0.
func ResetWatermark(n Names) string {
	return "DELETE FROM " + n.Watermark
}

// Filter keeps the statements of one side.
func Filter(stmts []cdc.SQLStatement, kind cdc.Side) []cdc.SQLStatement {
	var out []cdc.SQLStatement
	for _, s := range stmts {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
