package engine

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// Emitter — best-effort публикация событий агента.
type Emitter interface {
	Emit(ctx context.Context, agentID, eventType string, payload map[string]interface{})
}

// Lifecycle — конечный автомат агента: idle -> running <-> paused, любое -> stopped -> running.
// Команды, чей guard не выполнен, — тихий no-op без события.
// Мьютекс защищает только память: параллельные команды не сериализуются, побеждает последняя запись.
type Lifecycle struct {
	agentID string
	mode    string
	emitter Emitter
	beats   *Heartbeat // может быть nil
	now     func() time.Time

	mu        sync.RWMutex
	state     domain.LifecycleState
	startedAt time.Time
	pausedAt  time.Time
}

var _ Beater = (*Lifecycle)(nil)

func NewLifecycle(agentID, mode string, emitter Emitter, beats *Heartbeat, now func() time.Time) *Lifecycle {
	if mode == "" {
		mode = domain.DefaultMode
	}
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{
		agentID: agentID,
		mode:    mode,
		emitter: emitter,
		beats:   beats,
		now:     now,
		state:   domain.StateIdle,
	}
}

func (l *Lifecycle) State() domain.LifecycleState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Lifecycle) Mode() string { return l.mode }

// Apply выполняет команду и сообщает, изменилось ли состояние.
func (l *Lifecycle) Apply(ctx context.Context, cmd domain.Command) (domain.LifecycleState, bool) {
	switch cmd {
	case domain.CommandStart:
		return l.Start(ctx)
	case domain.CommandStop:
		return l.Stop(ctx)
	case domain.CommandPause:
		return l.Pause(ctx)
	case domain.CommandResume:
		return l.Resume(ctx)
	default:
		return l.State(), false
	}
}

func (l *Lifecycle) Start(ctx context.Context) (domain.LifecycleState, bool) {
	l.mu.Lock()
	if l.state == domain.StateRunning {
		l.mu.Unlock()
		return domain.StateRunning, false
	}
	l.state = domain.StateRunning
	l.startedAt = l.now()
	l.pausedAt = time.Time{}
	l.mu.Unlock()

	l.emitter.Emit(ctx, l.agentID, domain.EventAgentStarted, map[string]interface{}{"mode": l.mode})
	if l.beats != nil {
		l.beats.Track(l.agentID, l)
	}
	return domain.StateRunning, true
}

func (l *Lifecycle) Stop(ctx context.Context) (domain.LifecycleState, bool) {
	l.mu.Lock()
	if l.state == domain.StateStopped {
		l.mu.Unlock()
		return domain.StateStopped, false
	}
	l.state = domain.StateStopped
	l.mu.Unlock()

	l.emitter.Emit(ctx, l.agentID, domain.EventAgentStopped, map[string]interface{}{})
	return domain.StateStopped, true
}

func (l *Lifecycle) Pause(ctx context.Context) (domain.LifecycleState, bool) {
	l.mu.Lock()
	if l.state != domain.StateRunning {
		s := l.state
		l.mu.Unlock()
		return s, false
	}
	l.state = domain.StatePaused
	l.pausedAt = l.now()
	l.mu.Unlock()

	l.emitter.Emit(ctx, l.agentID, domain.EventAgentPaused, map[string]interface{}{})
	return domain.StatePaused, true
}

func (l *Lifecycle) Resume(ctx context.Context) (domain.LifecycleState, bool) {
	l.mu.Lock()
	if l.state != domain.StatePaused {
		s := l.state
		l.mu.Unlock()
		return s, false
	}
	l.state = domain.StateRunning
	l.mu.Unlock()

	l.emitter.Emit(ctx, l.agentID, domain.EventAgentResumed, map[string]interface{}{})
	return domain.StateRunning, true
}

// Uptime в секундах: 0 до первого старта, на паузе заморожен в момент паузы.
func (l *Lifecycle) Uptime() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.startedAt.IsZero() {
		return 0
	}
	end := l.now()
	if l.state == domain.StatePaused {
		end = l.pausedAt
	}
	return end.Sub(l.startedAt).Seconds()
}

// Active — агент в состоянии, в котором идет heartbeat.
func (l *Lifecycle) Active() bool { return l.State().IsActive() }

// Beat — тело heartbeat-задачи. false означает, что задачу пора снять.
func (l *Lifecycle) Beat() bool {
	state := l.State()
	if !state.IsActive() {
		return false
	}
	l.emitter.Emit(context.Background(), l.agentID, domain.EventHeartbeat,
		map[string]interface{}{"status": string(state)})
	return true
}
