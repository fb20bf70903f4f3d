// Package replicator is the entry point for hosts: it wires configuration,
// connections, metrics and the orchestrator into one Service.
package replicator

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/katasec/dstream-sync/internal/api"
	"github.com/katasec/dstream-sync/internal/config"
	"github.com/katasec/dstream-sync/internal/db"
	"github.com/katasec/dstream-sync/internal/metrics"
	"github.com/katasec/dstream-sync/internal/orchestrator"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

var _ cdc.SyncService = (*Service)(nil)

// Service replicates every table of one configuration.
type Service struct {
	cfg     *config.Config
	router  *db.Router
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	log     hclog.Logger
}

// New builds a service. No database is contacted yet.
func New(cfg *config.Config, opts ...orchestrator.Option) (*Service, error) {
	cfg.ApplyDefaults()
	log := GetLogger().Named("replicator")
	router := db.NewRouter(cfg.Schemas, db.WithRouterLogger(log.Named("router")))
	m := metrics.New()

	opts = append([]orchestrator.Option{
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(log.Named("orchestrator")),
	}, opts...)
	orch, err := orchestrator.New(cfg, router, opts...)
	if err != nil {
		_ = router.Close()
		return nil, err
	}
	return &Service{cfg: cfg, router: router, orch: orch, metrics: m, log: log}, nil
}

// Orchestrator exposes the underlying orchestrator.
func (s *Service) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// SyncData replicates one table until ctx is done.
func (s *Service) SyncData(ctx context.Context, table string) error {
	return s.orch.Sync(ctx, table)
}

// GenerateSyncScripts returns the provisioning statements of one table.
func (s *Service) GenerateSyncScripts(ctx context.Context, table string) ([]cdc.SQLStatement, error) {
	return s.orch.Statements(ctx, table)
}

// CanSyncData reports whether the table can be replicated.
func (s *Service) CanSyncData(ctx context.Context, table string) bool {
	return s.orch.CanSync(ctx, table)
}

// GetSchema returns the schema a table is configured under.
func (s *Service) GetSchema(table string) (string, error) {
	schema, ok := s.cfg.SchemaOf(table)
	if !ok {
		return "", cdc.ConfigError("schema lookup", errors.Errorf("table %q is not configured", table))
	}
	return schema, nil
}

// Provision generates the journal, trigger and watermark objects of every
// table, as script files when ddlOnly is set and directly otherwise.
func (s *Service) Provision(ctx context.Context, ddlOnly bool) (*orchestrator.ProvisionReport, error) {
	report, err := s.orch.GenerateScripts(ctx, ddlOnly)
	if err != nil {
		return report, err
	}
	for schema, err := range report.Failures {
		s.log.Error("Schema was not provisioned", "schema", schema, "error", err)
	}
	for table, err := range report.Tables {
		s.log.Error("Table was not provisioned", "table", table, "error", err)
	}
	if !report.OK() {
		return report, fmt.Errorf("provisioning incomplete: %d schema and %d table failures", len(report.Failures), len(report.Tables))
	}
	return report, nil
}

// Run starts every worker and, when configured, the status server. It returns
// after ctx is cancelled and all workers have stopped, with the first terminal
// worker error if any.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Metrics != nil && s.cfg.Metrics.ListenAddr != "" {
		srv := api.NewServer(s.cfg.Metrics.ListenAddr, s.metrics, s.orch, s.log.Named("api"))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var first error
	for res := range s.orch.StartAll(ctx) {
		switch {
		case res.Skipped:
			s.log.Info("Table skipped, owned elsewhere", "schema", res.Schema, "table", res.Table)
		case res.Err != nil:
			s.log.Error("Table stopped replicating", "schema", res.Schema, "table", res.Table, "error", res.Err)
			if first == nil {
				first = res.Err
			}
		default:
			s.log.Info("Table stopped", "schema", res.Schema, "table", res.Table)
		}
	}
	s.log.Info("Context cancelled, all workers stopped")
	return first
}

// Close releases every connection pool.
func (s *Service) Close() error {
	return s.router.Close()
}
