package replicator

import (
	"context"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/katasec/dstream-sync/internal/config"
	"github.com/katasec/dstream-sync/internal/logging"
)

// Plugin runs the replicator inside a host that hands over its configuration
// as a protobuf Struct.
type Plugin struct{}

// Start receives the host's `config { … }` block and replicates until ctx is done.
func (p *Plugin) Start(ctx context.Context, cfg *structpb.Struct) error {
	log := GetLogger()
	log.Info("Sync plugin starting execution")

	syncConfig, err := validateConfig(cfg)
	if err != nil {
		return err
	}
	if syncConfig.LogLevel != "" {
		SetLogger(logging.New(syncConfig.LogLevel))
	}

	svc, err := New(syncConfig)
	if err != nil {
		return err
	}
	defer svc.Close()
	return svc.Run(ctx)
}

// validateConfig converts and validates the plugin configuration
func validateConfig(cfg *structpb.Struct) (*config.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing plugin configuration")
	}
	raw := cfg.AsMap()
	GetLogger().Debug("Struct Config map", "config", raw)

	c := &config.Config{}
	c.LogLevel, _ = raw["log_level"].(string)
	c.PollInterval, _ = raw["poll_interval"].(string)
	c.MaxPollInterval, _ = raw["max_poll_interval"].(string)
	c.OutputDir, _ = raw["output_dir"].(string)

	// Struct numbers arrive as float64; HCL hosts sometimes pass them as strings.
	switch v := raw["batch_size"].(type) {
	case nil:
	case float64:
		c.BatchSize = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("batch_size must be a number: %w", err)
		}
		c.BatchSize = n
	default:
		return nil, fmt.Errorf("batch_size must be a number")
	}

	// --- optional: lock configuration ---------------------------------------------------------
	if lock, ok := raw["lock"].(map[string]any); ok {
		c.Lock = &config.LockConfig{}
		c.Lock.Type, _ = lock["type"].(string)
		c.Lock.ConnectionString, _ = lock["connection_string"].(string)
		c.Lock.ContainerName, _ = lock["container_name"].(string)
		if c.Lock.Type == "" {
			return nil, fmt.Errorf("missing required config: lock.type")
		}
	}

	// --- optional: metrics ---------------------------------------------------------------------
	if m, ok := raw["metrics"].(map[string]any); ok {
		addr, _ := m["listen_addr"].(string)
		c.Metrics = &config.MetricsConfig{ListenAddr: addr}
	}

	// --- required: schemas ---------------------------------------------------------------------
	schemas, ok := raw["schemas"].([]any)
	if !ok || len(schemas) == 0 {
		return nil, fmt.Errorf("missing required config: schemas")
	}
	for i, item := range schemas {
		s, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schemas[%d] must be an object", i)
		}
		sc := config.SchemaConfig{}
		sc.Name, _ = s["name"].(string)
		if sc.Name == "" {
			return nil, fmt.Errorf("missing required config: schemas[%d].name", i)
		}

		switch v := s["tables"].(type) {
		case []any:
			for _, t := range v {
				if name, ok := t.(string); ok && name != "" {
					sc.Tables = append(sc.Tables, name)
				}
			}
		case string: // fallback for a single flattened table
			if v != "" {
				sc.Tables = append(sc.Tables, v)
			}
		default:
			return nil, fmt.Errorf("schemas[%d].tables must be a list of strings", i)
		}

		var err error
		if sc.Source, err = dataSource(s, "source"); err != nil {
			return nil, fmt.Errorf("schemas[%d]: %w", i, err)
		}
		if sc.Target, err = dataSource(s, "target"); err != nil {
			return nil, fmt.Errorf("schemas[%d]: %w", i, err)
		}
		c.Schemas = append(c.Schemas, sc)
	}

	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func dataSource(schema map[string]any, key string) (config.DataSource, error) {
	m, ok := schema[key].(map[string]any)
	if !ok {
		return config.DataSource{}, fmt.Errorf("missing required config: %s", key)
	}
	ds := config.DataSource{}
	ds.Driver, _ = m["driver"].(string)
	ds.DSN, _ = m["dsn"].(string)
	if n, ok := m["max_open_conns"].(float64); ok {
		ds.MaxOpenConns = int(n)
	}
	if ds.Driver == "" || ds.DSN == "" {
		return config.DataSource{}, fmt.Errorf("missing required config: %s.driver and %s.dsn", key, key)
	}
	return ds, nil
}
