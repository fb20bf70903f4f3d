package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/katasec/dstream-sync/internal/config"
	"github.com/katasec/dstream-sync/internal/logging"
	"github.com/katasec/dstream-sync/replicator"
)

func main() {
	configPath := flag.String("config", "dstream-sync.hcl", "path to the HCL or JSON configuration")
	ddlOnly := flag.Bool("ddl-only", false, "write provisioning scripts to output_dir and exit")
	provision := flag.Bool("provision", false, "create journals, triggers and watermarks before replicating")
	flag.Parse()

	if err := run(*configPath, *ddlOnly, *provision); err != nil {
		fmt.Fprintln(os.Stderr, "dstream-sync:", err)
		os.Exit(1)
	}
}

func run(configPath string, ddlOnly, provision bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logging.SetLogger(logging.New(cfg.LogLevel))
	log := logging.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := replicator.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if ddlOnly || provision {
		report, err := svc.Provision(ctx, ddlOnly)
		if err != nil {
			return err
		}
		if ddlOnly {
			log.Info("Scripts written", "files", len(report.Files), "dir", cfg.OutputDir)
			return nil
		}
		log.Info("Provisioning complete", "groups", report.Applied)
	}

	log.Info("Starting replication", "schemas", len(cfg.Schemas))
	return svc.Run(ctx)
}
