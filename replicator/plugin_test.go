package replicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/katasec/dstream-sync/internal/config"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

func pluginStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func validRaw() map[string]any {
	return map[string]any{
		"batch_size":    250,
		"poll_interval": "2s",
		"lock":          map[string]any{"type": "none"},
		"metrics":       map[string]any{"listen_addr": ":9464"},
		"schemas": []any{
			map[string]any{
				"name":   "identity",
				"tables": []any{"TOKENS", "CODES"},
				"source": map[string]any{"driver": "mysql", "dsn": "u:p@tcp(old:3306)/identity"},
				"target": map[string]any{"driver": "mysql", "dsn": "u:p@tcp(new:3306)/identity", "max_open_conns": 4},
			},
		},
	}
}

func TestValidateConfig(t *testing.T) {
	cfg, err := validateConfig(pluginStruct(t, validRaw()))
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, "2s", cfg.PollInterval)
	assert.Equal(t, config.DefaultMaxPollInterval, cfg.MaxPollInterval)
	assert.Equal(t, config.LockNone, cfg.Lock.Type)
	assert.Equal(t, ":9464", cfg.Metrics.ListenAddr)
	require.Len(t, cfg.Schemas, 1)
	assert.Equal(t, []string{"TOKENS", "CODES"}, cfg.Schemas[0].Tables)
	assert.Equal(t, 4, cfg.Schemas[0].Target.MaxOpenConns)
}

func TestValidateConfigErrors(t *testing.T) {
	cases := map[string]func(m map[string]any){
		"no schemas":    func(m map[string]any) { delete(m, "schemas") },
		"bad batch":     func(m map[string]any) { m["batch_size"] = "many" },
		"no lock type":  func(m map[string]any) { m["lock"] = map[string]any{} },
		"bad lock type": func(m map[string]any) { m["lock"] = map[string]any{"type": "zookeeper"} },
		"no target": func(m map[string]any) {
			m["schemas"].([]any)[0].(map[string]any)["target"] = map[string]any{"driver": "mysql"}
		},
		"bad tables": func(m map[string]any) {
			m["schemas"].([]any)[0].(map[string]any)["tables"] = 3
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			raw := validRaw()
			mutate(raw)
			_, err := validateConfig(pluginStruct(t, raw))
			assert.Error(t, err)
		})
	}
	_, err := validateConfig(nil)
	assert.Error(t, err)
}

func TestServiceContract(t *testing.T) {
	cfg, err := validateConfig(pluginStruct(t, validRaw()))
	require.NoError(t, err)
	svc, err := New(cfg)
	require.NoError(t, err)
	defer svc.Close()

	schema, err := svc.GetSchema("CODES")
	require.NoError(t, err)
	assert.Equal(t, "identity", schema)

	_, err = svc.GetSchema("UNKNOWN")
	require.Error(t, err)
	assert.True(t, cdc.IsKind(err, cdc.KindConfig))
}
