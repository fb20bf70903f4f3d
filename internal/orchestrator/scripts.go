package orchestrator

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"

	"github.com/katasec/dstream-sync/internal/cdc/ddl"
	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

// ScriptGroup is the statements of one schema side.
type ScriptGroup struct {
	Schema     string
	Kind       cdc.Side
	Dialect    db.Dialect
	Statements []cdc.SQLStatement
}

// FileName is the script file a group is written to.
func (g ScriptGroup) FileName() string {
	return g.Schema + "_" + string(g.Kind) + ".sql"
}

// Render frames the statements for the group's dialect.
func (g ScriptGroup) Render() string {
	f := g.Dialect.Framing()
	var b strings.Builder
	b.WriteString(f.Prefix)
	for _, s := range g.Statements {
		b.WriteString(s.Text)
		b.WriteString(f.Separator)
	}
	b.WriteString(f.Suffix)
	return b.String()
}

// ProvisionReport is the outcome of one provisioning pass.
type ProvisionReport struct {
	Files    []string         // scripts written, DDL-only mode
	Applied  []string         // "<schema>/<kind>" groups committed, execute mode
	Failures map[string]error // by schema
	Tables   map[string]error // tables left out because they could not be resolved
	Groups   []ScriptGroup
}

// OK reports whether nothing failed.
func (r *ProvisionReport) OK() bool {
	return len(r.Failures) == 0 && len(r.Tables) == 0
}

// Groups aggregates the statements of all resolvable tables per schema and
// side, in configuration order with the source group of a schema first.
func (o *Orchestrator) Groups(ctx context.Context) ([]ScriptGroup, map[string]error, map[string]error) {
	_, tableErrs := o.Resolve(ctx)
	schemaErrs := map[string]error{}
	var groups []ScriptGroup

	for _, s := range o.cfg.Schemas {
		src, err := o.router.Dialect(ctx, s.Name, cdc.Source)
		if err != nil {
			schemaErrs[s.Name] = err
			continue
		}
		tgt, err := o.router.Dialect(ctx, s.Name, cdc.Target)
		if err != nil {
			schemaErrs[s.Name] = err
			continue
		}
		source := ScriptGroup{Schema: s.Name, Kind: cdc.Source, Dialect: src}
		target := ScriptGroup{Schema: s.Name, Kind: cdc.Target, Dialect: tgt}
		for _, t := range s.Tables {
			w, ok := o.worker(t)
			if !ok {
				continue
			}
			stmts, err := ddl.Generate(w.Spec(), src, tgt)
			if err != nil {
				tableErrs[t] = err
				continue
			}
			source.Statements = append(source.Statements, ddl.Filter(stmts, cdc.Source)...)
			target.Statements = append(target.Statements, ddl.Filter(stmts, cdc.Target)...)
		}
		if len(source.Statements) > 0 {
			groups = append(groups, source, target)
		}
	}
	return groups, schemaErrs, tableErrs
}

// GenerateScripts provisions every configured table. With ddlOnly the
// statements are written as one script per schema side; otherwise each group
// runs in its own transaction, and a schema whose source group fails does not
// get its target group.
func (o *Orchestrator) GenerateScripts(ctx context.Context, ddlOnly bool) (*ProvisionReport, error) {
	groups, schemaErrs, tableErrs := o.Groups(ctx)
	report := &ProvisionReport{Failures: schemaErrs, Tables: tableErrs, Groups: groups}

	if ddlOnly {
		for _, g := range groups {
			name := g.FileName()
			if err := util.WriteFile(o.fs, name, []byte(g.Render()), 0o644); err != nil {
				return report, cdc.ScriptWriteError(g.Schema, name, err)
			}
			written := filepath.Join(o.cfg.OutputDir, name)
			report.Files = append(report.Files, written)
			o.log.Info("Wrote sync script", "schema", g.Schema, "kind", g.Kind, "file", written, "statements", len(g.Statements))
		}
		return report, nil
	}

	for _, g := range groups {
		if _, failed := report.Failures[g.Schema]; failed {
			o.log.Warn("Skipping group of failed schema", "schema", g.Schema, "kind", g.Kind)
			continue
		}
		if err := o.execute(ctx, g); err != nil {
			report.Failures[g.Schema] = err
			o.log.Error("Provisioning failed, skipping schema", "schema", g.Schema, "kind", g.Kind, "error", err)
			continue
		}
		report.Applied = append(report.Applied, g.Schema+"/"+string(g.Kind))
		o.log.Info("Provisioned", "schema", g.Schema, "kind", g.Kind, "statements", len(g.Statements))
	}
	return report, nil
}

func (o *Orchestrator) execute(ctx context.Context, g ScriptGroup) error {
	conn, err := o.router.Conn(ctx, g.Schema, g.Kind)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return cdc.ConnectionError(g.Schema, "", "begin "+string(g.Kind)+" provisioning", err)
	}
	for _, s := range g.Statements {
		o.log.Debug("Executing", "schema", g.Schema, "kind", g.Kind, "sql", s.Text)
		if _, err := tx.ExecContext(ctx, s.Text); err != nil {
			_ = tx.Rollback()
			return cdc.BatchExecutionError(g.Schema, "", "provision "+string(g.Kind), errors.Wrapf(err, "execute %q", firstLine(s.Text)))
		}
	}
	if err := tx.Commit(); err != nil {
		return cdc.BatchExecutionError(g.Schema, "", "commit "+string(g.Kind)+" provisioning", err)
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
