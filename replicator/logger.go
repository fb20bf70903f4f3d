package replicator

import (
	"github.com/hashicorp/go-hclog"

	"github.com/katasec/dstream-sync/internal/logging"
)

// SetLogger sets the logger used by the replicator, e.g. one handed over by a host.
func SetLogger(logger hclog.Logger) {
	logging.SetLogger(logger)
}

// GetLogger returns the replicator logger
func GetLogger() hclog.Logger {
	return logging.GetLogger()
}
