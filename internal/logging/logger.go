package logging

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

const defaultName = "dstream-sync"

var (
	mu     sync.RWMutex
	logger hclog.Logger
)

// GetLogger returns the process logger, creating an info-level one on first use.
func GetLogger() hclog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = New("info")
	}
	return logger
}

// SetLogger replaces the process logger, e.g. with one handed over by a plugin host.
func SetLogger(l hclog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// New builds a logger writing to stderr at the given level ("trace" ... "error").
// Unknown levels fall back to info.
func New(level string) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   defaultName,
		Level:  lvl,
		Output: os.Stderr,
	})
}

// Named returns a sub-logger of the process logger.
func Named(name string) hclog.Logger {
	return GetLogger().Named(name)
}
