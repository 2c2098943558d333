package engine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

// Subscriber — часть Store, нужная слушателю команд.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (infra.Subscription, error)
}

// Commander применяет команду жизненного цикла. Реализуется Registry.
type Commander interface {
	Control(ctx context.Context, agentID, command string) (domain.LifecycleState, error)
}

// ControlListener принимает команды жизненного цикла из общего Pub/Sub канала,
// чтобы внешний оператор мог остановить агента без HTTP (аналог kill-switch).
type ControlListener struct {
	subs       Subscriber
	target     Commander
	logger     *zap.Logger
	channel    string
	retryDelay time.Duration
}

type ControlListenerOption func(*ControlListener)

func WithControlChannel(name string) ControlListenerOption {
	return func(l *ControlListener) { l.channel = name }
}

// WithRetryDelay задает паузу перед повторной подпиской.
func WithRetryDelay(d time.Duration) ControlListenerOption {
	return func(l *ControlListener) { l.retryDelay = d }
}

func NewControlListener(subs Subscriber, target Commander, logger *zap.Logger, opts ...ControlListenerOption) *ControlListener {
	l := &ControlListener{
		subs:       subs,
		target:     target,
		logger:     logger.With(zap.String("mod", "control-listener")),
		channel:    infra.RedisChanControl,
		retryDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Listen — "живучая" подписка: при потере канала переподписывается.
// Возвращается только после отмены ctx.
func (l *ControlListener) Listen(ctx context.Context) {
	for {
		sub, err := l.subs.Subscribe(ctx, l.channel)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("failed to subscribe", zap.String("chan", l.channel), zap.Error(err))
			if !sleepCtx(ctx, l.retryDelay) {
				return
			}
			continue
		}

		l.logger.Info("control listener started", zap.String("chan", l.channel))
		l.consume(ctx, sub)
		_ = sub.Close()

		if !sleepCtx(ctx, time.Second) {
			l.logger.Info("control listener stopping by context")
			return
		}
		l.logger.Warn("control channel closed, resubscribing", zap.String("chan", l.channel))
	}
}

func (l *ControlListener) consume(ctx context.Context, sub infra.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			l.handle(ctx, string(msg))
		}
	}
}

// handle разбирает "agent_id:command". ID может содержать ':', команда нет.
func (l *ControlListener) handle(ctx context.Context, payload string) {
	i := strings.LastIndexByte(payload, ':')
	if i <= 0 || i == len(payload)-1 {
		l.logger.Error("invalid signal format", zap.String("payload", payload))
		return
	}
	agentID, command := payload[:i], payload[i+1:]

	state, err := l.target.Control(ctx, agentID, command)
	if err != nil {
		l.logger.Warn("control signal rejected",
			zap.String("agent_id", agentID),
			zap.String("command", command),
			zap.Error(err))
		return
	}
	l.logger.Info("control signal applied",
		zap.String("agent_id", agentID),
		zap.String("command", command),
		zap.String("state", string(state)))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
