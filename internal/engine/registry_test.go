package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/audit"
	"github.com/xela07ax/agent-orchestrator/internal/bus"
	"github.com/xela07ax/agent-orchestrator/internal/capability"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

type registryFixture struct {
	reg     *Registry
	store   *infra.RedisStore
	mr      *miniredis.Miniredis
	events  *bus.EventBus
	metrics *Metrics
}

func newRegistry(t *testing.T, opts ...RegistryOption) registryFixture {
	t.Helper()
	store, mr := newRedisStore(t)
	logger := zap.NewNop()
	m := NewMetrics(nil)
	events := bus.New(store, logger)
	reg := NewRegistry(
		capability.DefaultCatalog(nil),
		audit.NewActivityLog(store, logger),
		events,
		nil,
		store,
		m,
		logger,
		opts...,
	)
	return registryFixture{reg: reg, store: store, mr: mr, events: events, metrics: m}
}

func TestRegistry_FinanceControlScenario(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()

	_, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "f1", AgentType: capability.TypeFinance, Config: map[string]interface{}{}})
	require.NoError(t, err)

	state, err := f.reg.State("f1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, state)

	for _, step := range []struct {
		cmd  string
		want domain.LifecycleState
	}{
		{"start", domain.StateRunning},
		{"pause", domain.StatePaused},
		{"stop", domain.StateStopped},
		{"start", domain.StateRunning},
	} {
		got, err := f.reg.Control(ctx, "f1", step.cmd)
		require.NoError(t, err, step.cmd)
		assert.Equal(t, step.want, got, step.cmd)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LifecycleTransitions.WithLabelValues("start", "running")))
}

func TestRegistry_UnknownAgent(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()

	_, err := f.reg.Status(ctx, "ghost-agent")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	_, err = f.reg.Execute(ctx, "ghost-agent", domain.ActionRequest{Action: "x"})
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	_, err = f.reg.Control(ctx, "ghost-agent", "start")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestRegistry_DeployValidation(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()

	_, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "x", AgentType: "warp_drive"})
	assert.ErrorIs(t, err, domain.ErrUnknownAgentType)

	_, err = f.reg.Deploy(ctx, domain.Deployment{AgentType: capability.TypeQA})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	assert.Empty(t, f.reg.Health())
}

func TestRegistry_InvalidCommand(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()
	_, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "q1", AgentType: capability.TypeQA})
	require.NoError(t, err)

	_, err = f.reg.Control(ctx, "q1", "explode")
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
}

func TestRegistry_OverwriteReplacesInstance(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()

	_, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "a1", AgentType: capability.TypeQA})
	require.NoError(t, err)
	_, err = f.reg.Control(ctx, "a1", "start")
	require.NoError(t, err)

	agent, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "a1", AgentType: capability.TypeFinance})
	require.NoError(t, err)
	assert.Equal(t, capability.TypeFinance, agent.Type())

	state, _ := f.reg.State("a1")
	assert.Equal(t, domain.StateIdle, state)
	assert.Equal(t, []string{"a1"}, f.reg.Health())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AgentsRegistered))
}

func TestRegistry_RejectPolicy(t *testing.T) {
	f := newRegistry(t, WithDeployPolicy(DeployReject))
	ctx := context.Background()

	_, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "a1", AgentType: capability.TypeQA})
	require.NoError(t, err)
	_, err = f.reg.Deploy(ctx, domain.Deployment{AgentID: "a1", AgentType: capability.TypeFinance})
	assert.ErrorIs(t, err, domain.ErrAgentConflict)

	agent, err := f.reg.Lookup("a1")
	require.NoError(t, err)
	assert.Equal(t, capability.TypeQA, agent.Type())
}

func TestRegistry_PersistsConfigAndMode(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()

	_, err := f.reg.Deploy(ctx, domain.Deployment{
		AgentID:   "f1",
		AgentType: capability.TypeFinance,
		Config:    map[string]interface{}{"mode": "supervised", "cash_floor": 10.0},
	})
	require.NoError(t, err)

	raw, err := f.mr.Get(infra.ConfigKey("f1"))
	require.NoError(t, err)
	var stored domain.Deployment
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "supervised", stored.Mode)
	assert.Equal(t, 10.0, stored.Config["cash_floor"])

	status, err := f.reg.Status(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "supervised", status.Mode)

	agent, _ := f.reg.Lookup("f1")
	fin := agent.Dispatcher.Capability().(*capability.Finance)
	assert.Equal(t, 10.0, fin.Settings().CashFloor)
}

func TestRegistry_StatusReflectsActivity(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()
	_, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "inv", AgentType: capability.TypeInventory})
	require.NoError(t, err)

	status, err := f.reg.Status(ctx, "inv")
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, status.State)
	assert.Zero(t, status.Metrics)
	assert.NotNil(t, status.RecentActivities)

	for i := 0; i < 7; i++ {
		_, err := f.reg.Execute(ctx, "inv", domain.ActionRequest{Action: capability.ActionAnalyzeInventory, Parameters: map[string]interface{}{}})
		require.NoError(t, err)
	}
	_, err = f.reg.Execute(ctx, "inv", domain.ActionRequest{Action: "__nonexistent__"})
	require.NoError(t, err)

	status, err = f.reg.Status(ctx, "inv")
	require.NoError(t, err)
	assert.Equal(t, 8, status.Metrics.TotalActions)
	assert.InDelta(t, 87.5, status.Metrics.SuccessRate, 1e-9)
	assert.InDelta(t, 0.925*7/8, status.Metrics.AverageConfidence, 1e-9)
	require.Len(t, status.RecentActivities, 5)
	assert.Equal(t, "__nonexistent__", status.RecentActivities[0].Action)
}

func TestRegistry_ObserversSeeStateChanges(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []domain.LifecycleState
	f.reg.OnStateChange(func(agentID string, state domain.LifecycleState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, state)
	})

	_, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "a1", AgentType: capability.TypeQA})
	require.NoError(t, err)
	_, _ = f.reg.Control(ctx, "a1", "start")
	_, _ = f.reg.Control(ctx, "a1", "start")
	_, _ = f.reg.Control(ctx, "a1", "pause")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.LifecycleState{domain.StateIdle, domain.StateRunning, domain.StatePaused}, seen)
}

func TestRegistry_SeedDefaults(t *testing.T) {
	f := newRegistry(t)

	require.NoError(t, f.reg.SeedDefaults(context.Background()))

	assert.Equal(t, []string{
		"decision-agent-01", "finance-agent-01", "inventory-agent-01",
		"logistics-agent-01", "production-agent-01", "qa-agent-01",
	}, f.reg.Health())
	for _, id := range f.reg.Health() {
		state, err := f.reg.State(id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateIdle, state)
	}
}
