package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/capability"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

// Политики повторного развертывания агента с тем же id
const (
	DeployOverwrite = "overwrite"
	DeployReject    = "reject"
)

// recentActivities — сколько последних записей отдает статус.
const recentActivities = 5

// ActivityReader — история действий, нужная статусу.
type ActivityReader interface {
	ActivityRecorder
	Recent(ctx context.Context, agentID string, n int64) ([]domain.ActivityRecord, error)
	Metrics(ctx context.Context, agentID string) (domain.ActivityMetrics, error)
}

// ConfigWriter — хранилище конфигураций развертывания.
type ConfigWriter interface {
	Set(ctx context.Context, key string, value []byte) error
}

// StateObserver получает новое состояние агента после развертывания или команды.
type StateObserver func(agentID string, state domain.LifecycleState)

// Agent — развернутый экземпляр: конечный автомат плюс диспетчер действий.
type Agent struct {
	Deployment domain.Deployment
	Lifecycle  *Lifecycle
	Dispatcher *Dispatcher
}

func (a *Agent) ID() string   { return a.Deployment.AgentID }
func (a *Agent) Type() string { return a.Deployment.AgentType }

// Registry — процессный реестр агентов и фасад control plane.
type Registry struct {
	catalog  *capability.Catalog
	activity ActivityReader
	events   Emitter
	beats    *Heartbeat
	configs  ConfigWriter
	metrics  *Metrics
	root     *zap.Logger
	logger   *zap.Logger

	policy string
	now    func() time.Time

	mu        sync.RWMutex
	agents    map[string]*Agent
	observers []StateObserver
}

type RegistryOption func(*Registry)

func WithDeployPolicy(policy string) RegistryOption {
	return func(r *Registry) {
		if policy == DeployReject {
			r.policy = DeployReject
		}
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(
	catalog *capability.Catalog,
	activity ActivityReader,
	events Emitter,
	beats *Heartbeat,
	configs ConfigWriter,
	metrics *Metrics,
	logger *zap.Logger,
	opts ...RegistryOption,
) *Registry {
	r := &Registry{
		catalog:  catalog,
		activity: activity,
		events:   events,
		beats:    beats,
		configs:  configs,
		metrics:  metrics,
		root:     logger,
		logger:   logger.With(zap.String("mod", "registry")),
		policy:   DeployOverwrite,
		now:      time.Now,
		agents:   make(map[string]*Agent),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnStateChange регистрирует наблюдателя. Вызывается до начала обслуживания запросов.
func (r *Registry) OnStateChange(obs StateObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

func (r *Registry) notify(agentID string, state domain.LifecycleState) {
	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, obs := range observers {
		obs(agentID, state)
	}
}

// Deploy создает агента в состоянии idle. Существующий id перезаписывается
// или отклоняется с ErrAgentConflict, в зависимости от политики.
func (r *Registry) Deploy(ctx context.Context, d domain.Deployment) (*Agent, error) {
	if d.AgentID == "" {
		return nil, &domain.ValidationError{Field: "agent_id", Message: "must not be empty"}
	}
	if d.Mode == "" {
		d.Mode = modeFromConfig(d.Config)
	}
	d.DeployedAt = r.now().UTC()

	c, err := r.catalog.Build(d.AgentType, d.Config)
	if err != nil {
		return nil, err
	}

	agent := &Agent{
		Deployment: d,
		Lifecycle:  NewLifecycle(d.AgentID, d.Mode, r.events, r.beats, r.now),
		Dispatcher: NewDispatcher(d.AgentID, c, r.activity, r.events, r.metrics, r.root, r.now),
	}

	r.mu.Lock()
	_, exists := r.agents[d.AgentID]
	if exists && r.policy == DeployReject {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentConflict, d.AgentID)
	}
	if r.beats != nil {
		// Слот heartbeat переходит к новому экземпляру до того, как он станет виден:
		// замещенный экземпляр больше не сможет поставить свою задачу
		r.beats.Claim(d.AgentID, agent.Lifecycle)
	}
	r.agents[d.AgentID] = agent
	count := len(r.agents)
	r.mu.Unlock()

	r.metrics.AgentsRegistered.Set(float64(count))
	r.persistConfig(ctx, d)
	r.notify(d.AgentID, domain.StateIdle)

	r.logger.Info("agent deployed",
		zap.String("agent_id", d.AgentID),
		zap.String("type", d.AgentType),
		zap.String("mode", d.Mode),
		zap.Bool("replaced", exists))
	return agent, nil
}

// persistConfig сохраняет конфигурацию развертывания. Обратно при старте она не читается.
func (r *Registry) persistConfig(ctx context.Context, d domain.Deployment) {
	data, err := json.Marshal(d)
	if err == nil {
		err = r.configs.Set(ctx, infra.ConfigKey(d.AgentID), data)
	}
	if err != nil {
		r.metrics.DropCounter(SideEffectConfig)()
		r.logger.Warn("failed to persist agent config", zap.String("agent_id", d.AgentID), zap.Error(err))
	}
}

func modeFromConfig(cfg map[string]interface{}) string {
	if m, ok := cfg["mode"].(string); ok && m != "" {
		return m
	}
	return domain.DefaultMode
}

func (r *Registry) Lookup(agentID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, agentID)
	}
	return agent, nil
}

// State — текущее состояние агента, для стрима.
func (r *Registry) State(agentID string) (domain.LifecycleState, error) {
	agent, err := r.Lookup(agentID)
	if err != nil {
		return "", err
	}
	return agent.Lifecycle.State(), nil
}

func (r *Registry) Execute(ctx context.Context, agentID string, req domain.ActionRequest) (domain.ActionResult, error) {
	agent, err := r.Lookup(agentID)
	if err != nil {
		return domain.ActionResult{}, err
	}
	return agent.Dispatcher.Execute(ctx, req), nil
}

// Status собирает состояние, метрики и последние действия. Недоступность истории
// не ломает статус: метрики остаются нулевыми.
func (r *Registry) Status(ctx context.Context, agentID string) (domain.AgentStatus, error) {
	agent, err := r.Lookup(agentID)
	if err != nil {
		return domain.AgentStatus{}, err
	}

	metrics, err := r.activity.Metrics(ctx, agentID)
	if err != nil {
		r.logger.Warn("activity metrics unavailable", zap.String("agent_id", agentID), zap.Error(err))
	}
	metrics.Uptime = agent.Lifecycle.Uptime()

	recent, err := r.activity.Recent(ctx, agentID, recentActivities)
	if err != nil {
		r.logger.Warn("recent activity unavailable", zap.String("agent_id", agentID), zap.Error(err))
	}
	if recent == nil {
		recent = []domain.ActivityRecord{}
	}

	return domain.AgentStatus{
		AgentID:          agentID,
		Type:             agent.Type(),
		State:            agent.Lifecycle.State(),
		Mode:             agent.Lifecycle.Mode(),
		Metrics:          metrics,
		RecentActivities: recent,
	}, nil
}

// Control применяет команду жизненного цикла и возвращает итоговое состояние.
func (r *Registry) Control(ctx context.Context, agentID, command string) (domain.LifecycleState, error) {
	agent, err := r.Lookup(agentID)
	if err != nil {
		return "", err
	}
	cmd, err := domain.ParseCommand(command)
	if err != nil {
		return "", err
	}

	ctx, span := otel.Tracer(infra.TracerName).Start(ctx, "control "+command)
	defer span.End()

	state, changed := agent.Lifecycle.Apply(ctx, cmd)
	span.SetAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("agent.state", string(state)),
		attribute.Bool("agent.changed", changed),
	)
	if changed {
		r.metrics.LifecycleTransitions.WithLabelValues(string(cmd), string(state)).Inc()
		r.notify(agentID, state)
		r.logger.Info("agent state changed", zap.String("agent_id", agentID), zap.String("state", string(state)))
	}
	return state, nil
}

// Health — отсортированные id развернутых агентов.
func (r *Registry) Health() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// DefaultAgents — агенты, которые разворачиваются при старте процесса.
var DefaultAgents = []domain.Deployment{
	{AgentID: "inventory-agent-01", AgentType: capability.TypeInventory},
	{AgentID: "production-agent-01", AgentType: capability.TypeProduction},
	{AgentID: "qa-agent-01", AgentType: capability.TypeQA},
	{AgentID: "logistics-agent-01", AgentType: capability.TypeLogistics},
	{AgentID: "decision-agent-01", AgentType: capability.TypeDecision},
	{AgentID: "finance-agent-01", AgentType: capability.TypeFinance},
}

// SeedDefaults разворачивает DefaultAgents в состоянии idle.
func (r *Registry) SeedDefaults(ctx context.Context) error {
	for _, d := range DefaultAgents {
		d.Config = map[string]interface{}{}
		if _, err := r.Deploy(ctx, d); err != nil {
			return fmt.Errorf("seed %s: %w", d.AgentID, err)
		}
	}
	return nil
}

// Shutdown снимает heartbeat всех агентов.
func (r *Registry) Shutdown() {
	for _, id := range r.Health() {
		if r.beats != nil {
			r.beats.Untrack(id)
		}
	}
	r.logger.Info("registry shut down")
}
