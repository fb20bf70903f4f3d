package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katasec/dstream-sync/internal/cdc/replica"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{DefaultStrategy}, r.Names())

	r.Register(Strategy{
		Name:    "tokens",
		CanSync: func(spec cdc.TableSyncSpec) bool { return spec.Table == "TOKENS" },
		Factory: func(cfg replica.Config, conns replica.Connector, opts ...replica.Option) *replica.Worker {
			return replica.NewWorker(cfg, conns, opts...)
		},
	})
	r.Register(Strategy{Name: "catch-all"})
	assert.Equal(t, []string{"tokens", "catch-all", DefaultStrategy}, r.Names())

	s, ok := r.Lookup(cdc.TableSyncSpec{Table: "TOKENS", PrimaryKeys: []string{"ID"}})
	require.True(t, ok)
	assert.Equal(t, "tokens", s.Name)

	s, ok = r.Lookup(cdc.TableSyncSpec{Table: "OTHER", PrimaryKeys: []string{"ID"}})
	require.True(t, ok)
	assert.Equal(t, "catch-all", s.Name)
	assert.NotNil(t, s.Factory)
}

func TestDefaultStrategyNeedsPrimaryKey(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup(cdc.TableSyncSpec{Table: "LOG"})
	assert.False(t, ok)

	s, ok := r.Lookup(cdc.TableSyncSpec{Table: "ITEMS", PrimaryKeys: []string{"ID"}})
	require.True(t, ok)
	assert.Equal(t, DefaultStrategy, s.Name)
}
