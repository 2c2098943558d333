package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/bus"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// Типы кадров стрима
const (
	FrameHeartbeat = "heartbeat"
	FrameEvent     = "event"
)

// Frame — исходящее сообщение стрима: heartbeat с состоянием или событие шины.
type Frame struct {
	Type        string                `json:"type"`
	Timestamp   time.Time             `json:"timestamp"`
	State       domain.LifecycleState `json:"state,omitempty"`
	Data        *domain.Event         `json:"data,omitempty"`
}

// FrameSink — транспорт стрима (websocket в console/handler).
type FrameSink interface {
	Send(ctx context.Context, f Frame) error
}

// StateSource отдает текущее состояние агента.
type StateSource interface {
	State(agentID string) (domain.LifecycleState, error)
}

// StreamGateway раз в interval шлет heartbeat и не более одного ожидающего события.
// Непрочитанные события копятся в подписке и уходят по одному за тик.
type StreamGateway struct {
	states   StateSource
	events   *bus.EventBus
	interval time.Duration
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewStreamGateway(states StateSource, events *bus.EventBus, interval time.Duration, metrics *Metrics, logger *zap.Logger) *StreamGateway {
	if interval <= 0 {
		interval = time.Second
	}
	return &StreamGateway{
		states:   states,
		events:   events,
		interval: interval,
		metrics:  metrics,
		logger:   logger.With(zap.String("mod", "stream")),
		now:      time.Now,
	}
}

// Serve держит стрим до отмены ctx или ошибки записи.
// Для неизвестного агента сразу возвращает ErrAgentNotFound, ничего не отправив.
func (g *StreamGateway) Serve(ctx context.Context, agentID string, sink FrameSink) error {
	if _, err := g.states.State(agentID); err != nil {
		return err
	}

	sub, err := g.events.Subscribe(ctx, agentID)
	if err != nil {
		return err
	}
	defer sub.Close()

	g.metrics.OpenStreams.Inc()
	defer g.metrics.OpenStreams.Dec()
	g.logger.Debug("stream opened", zap.String("agent_id", agentID))

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		if err := g.tick(ctx, agentID, sub, sink); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			g.logger.Debug("stream closed", zap.String("agent_id", agentID))
			return nil
		case <-ticker.C:
		}
	}
}

func (g *StreamGateway) tick(ctx context.Context, agentID string, sub *bus.Subscription, sink FrameSink) error {
	state, err := g.states.State(agentID)
	if err != nil {
		return err
	}
	if err := sink.Send(ctx, Frame{Type: FrameHeartbeat, Timestamp: g.now().UTC(), State: state}); err != nil {
		return err
	}

	if ev, ok := sub.TryNext(); ok {
		return sink.Send(ctx, Frame{Type: FrameEvent, Timestamp: g.now().UTC(), Data: &ev})
	}
	return nil
}
