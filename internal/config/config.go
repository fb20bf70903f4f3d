package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/katasec/dstream-sync/pkg/cdc"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = "5s"
	DefaultMaxPollInterval = "1m"
	DefaultOutputDir       = "./sync-scripts"

	LockNone      = "none"
	LockAzureBlob = "azure_blob"
)

// Config is the replication configuration.
// It is read from an HCL file (or HCL-flavoured JSON) or assembled by a plugin host.
type Config struct {
	LogLevel        string         `hcl:"log_level,optional" json:"log_level"`
	BatchSize       int            `hcl:"batch_size,optional" json:"batch_size"`
	PollInterval    string         `hcl:"poll_interval,optional" json:"poll_interval"`         // How often idle tables are polled (e.g., "5s")
	MaxPollInterval string         `hcl:"max_poll_interval,optional" json:"max_poll_interval"` // Maximum backoff after failures (e.g., "1m")
	OutputDir       string         `hcl:"output_dir,optional" json:"output_dir"`               // Where DDL-only runs write scripts
	Lock            *LockConfig    `hcl:"lock,block" json:"lock"`
	Metrics         *MetricsConfig `hcl:"metrics,block" json:"metrics"`
	Schemas         []SchemaConfig `hcl:"schema,block" json:"schemas"`
}

// LockConfig represents the configuration for table ownership leases
type LockConfig struct {
	Type             string `hcl:"type" json:"type"`                                   // "none" or "azure_blob"
	ConnectionString string `hcl:"connection_string,optional" json:"connection_string"` // Connection string for the lock provider
	ContainerName    string `hcl:"container_name,optional" json:"container_name"`       // Name of the container used for lock files
}

// MetricsConfig enables the HTTP status and metrics endpoint.
type MetricsConfig struct {
	ListenAddr string `hcl:"listen_addr" json:"listen_addr"`
}

// SchemaConfig lists the tables replicated between one source/target pair.
type SchemaConfig struct {
	Name   string     `hcl:"name,label" json:"name"`
	Tables []string   `hcl:"tables" json:"tables"`
	Source DataSource `hcl:"source,block" json:"source"`
	Target DataSource `hcl:"target,block" json:"target"`
}

// DataSource names a database/sql driver and its DSN.
type DataSource struct {
	Driver       string `hcl:"driver" json:"driver"` // sqlserver, mysql, pgx, sqlite
	DSN          string `hcl:"dsn" json:"dsn"`
	MaxOpenConns int    `hcl:"max_open_conns,optional" json:"max_open_conns"`
}

// LoadConfig reads and validates a configuration file.
// The syntax is chosen by extension: ".hcl" or ".json".
func LoadConfig(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, cdc.ConfigError("read "+path, err)
	}
	return ParseConfig(filepath.Base(path), src)
}

// ParseConfig decodes configuration source. filename only selects the syntax
// and appears in diagnostics.
func ParseConfig(filename string, src []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, src, nil, &cfg); err != nil {
		return nil, cdc.ConfigError("decode "+filename, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset optional values.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval == "" {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxPollInterval == "" {
		c.MaxPollInterval = DefaultMaxPollInterval
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.Lock == nil {
		c.Lock = &LockConfig{Type: LockNone}
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return cdc.ConfigError("batch_size", fmt.Errorf("must be positive, got %d", c.BatchSize))
	}
	poll, err := c.GetPollInterval()
	if err != nil {
		return cdc.ConfigError("poll_interval", err)
	}
	maxPoll, err := c.GetMaxPollInterval()
	if err != nil {
		return cdc.ConfigError("max_poll_interval", err)
	}
	if poll <= 0 {
		return cdc.ConfigError("poll_interval", fmt.Errorf("must be positive, got %s", poll))
	}
	if maxPoll < poll {
		return cdc.ConfigError("max_poll_interval", fmt.Errorf("%s is shorter than poll_interval %s", maxPoll, poll))
	}

	if c.Lock != nil {
		switch c.Lock.Type {
		case LockNone:
		case LockAzureBlob:
			if c.Lock.ConnectionString == "" || c.Lock.ContainerName == "" {
				return cdc.ConfigError("lock", fmt.Errorf("azure_blob needs connection_string and container_name"))
			}
		default:
			return cdc.ConfigError("lock.type", fmt.Errorf("unsupported lock type: %s", c.Lock.Type))
		}
	}

	if len(c.Schemas) == 0 {
		return cdc.ConfigError("schema", fmt.Errorf("at least one schema block is required"))
	}
	owner := map[string]string{}
	seenSchema := map[string]bool{}
	for _, s := range c.Schemas {
		if s.Name == "" {
			return cdc.ConfigError("schema", fmt.Errorf("schema name is empty"))
		}
		if seenSchema[s.Name] {
			return cdc.ConfigError("schema", fmt.Errorf("schema %q declared twice", s.Name))
		}
		seenSchema[s.Name] = true
		if len(s.Tables) == 0 {
			return cdc.ConfigError("schema."+s.Name, fmt.Errorf("no tables listed"))
		}
		for side, ds := range map[cdc.Side]DataSource{cdc.Source: s.Source, cdc.Target: s.Target} {
			if ds.Driver == "" || ds.DSN == "" {
				return cdc.ConfigError("schema."+s.Name+"."+string(side), fmt.Errorf("driver and dsn are required"))
			}
		}
		for _, t := range s.Tables {
			if prev, ok := owner[t]; ok {
				return cdc.ConfigError("schema."+s.Name, fmt.Errorf("table %q is already listed under schema %q", t, prev))
			}
			owner[t] = s.Name
		}
	}
	return nil
}

// GetPollInterval returns the PollInterval as a time.Duration
func (c *Config) GetPollInterval() (time.Duration, error) {
	return time.ParseDuration(c.PollInterval)
}

// GetMaxPollInterval returns the MaxPollInterval as a time.Duration
func (c *Config) GetMaxPollInterval() (time.Duration, error) {
	return time.ParseDuration(c.MaxPollInterval)
}

// Schema returns the named schema block.
func (c *Config) Schema(name string) (SchemaConfig, bool) {
	for _, s := range c.Schemas {
		if s.Name == name {
			return s, true
		}
	}
	return SchemaConfig{}, false
}

// SchemaOf returns the schema a table is listed under.
func (c *Config) SchemaOf(table string) (string, bool) {
	for _, s := range c.Schemas {
		for _, t := range s.Tables {
			if t == table {
				return s.Name, true
			}
		}
	}
	return "", false
}
