package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

// EventBus — канал событий агента поверх Pub/Sub субстрата.
// Доставка at-most-once: подписчик видит только то, что опубликовано после подписки.
type EventBus struct {
	store  infra.Store
	logger *zap.Logger
	now    func() time.Time

	onDropped func() // счетчик потерянных публикаций, может быть nil
}

type Option func(*EventBus)

// WithDropCounter вызывается на каждую неудачную best-effort публикацию.
func WithDropCounter(fn func()) Option {
	return func(b *EventBus) { b.onDropped = fn }
}

func WithClock(now func() time.Time) Option {
	return func(b *EventBus) { b.now = now }
}

func New(store infra.Store, logger *zap.Logger, opts ...Option) *EventBus {
	b := &EventBus{
		store:  store,
		logger: logger.Named("eventbus"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish сериализует событие и отправляет его в канал агента.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}
	if ev.Payload == nil {
		ev.Payload = map[string]interface{}{}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}
	return b.store.Publish(ctx, infra.EventsChannel(ev.AgentID), data)
}

// Emit — best-effort публикация: ошибка логируется и не пробрасывается.
func (b *EventBus) Emit(ctx context.Context, agentID, eventType string, payload map[string]interface{}) {
	err := b.Publish(ctx, domain.Event{Type: eventType, AgentID: agentID, Payload: payload})
	if err == nil {
		return
	}
	if b.onDropped != nil {
		b.onDropped()
	}
	b.logger.Warn("event publish failed",
		zap.String("agent_id", agentID),
		zap.String("type", eventType),
		zap.Error(err),
	)
}

// Subscribe открывает подписку на канал агента. Вызывающий обязан закрыть ее.
func (b *EventBus) Subscribe(ctx context.Context, agentID string) (*Subscription, error) {
	sub, err := b.store.Subscribe(ctx, infra.EventsChannel(agentID))
	if err != nil {
		return nil, err
	}
	return &Subscription{sub: sub, agentID: agentID, logger: b.logger}, nil
}

// Subscription — подписка на события одного агента.
type Subscription struct {
	sub     infra.Subscription
	agentID string
	logger  *zap.Logger
}

// TryNext неблокирующе забирает одно ожидающее событие, если оно есть.
// Битые сообщения пропускаются.
func (s *Subscription) TryNext() (domain.Event, bool) {
	for {
		select {
		case raw, ok := <-s.sub.Messages():
			if !ok {
				return domain.Event{}, false
			}
			ev, err := decode(raw)
			if err != nil {
				s.logger.Warn("malformed event dropped", zap.String("agent_id", s.agentID), zap.Error(err))
				continue
			}
			return ev, true
		default:
			return domain.Event{}, false
		}
	}
}

// Next блокируется до следующего события или отмены контекста.
func (s *Subscription) Next(ctx context.Context) (domain.Event, error) {
	for {
		select {
		case raw, ok := <-s.sub.Messages():
			if !ok {
				return domain.Event{}, fmt.Errorf("subscription %s closed", s.agentID)
			}
			ev, err := decode(raw)
			if err != nil {
				s.logger.Warn("malformed event dropped", zap.String("agent_id", s.agentID), zap.Error(err))
				continue
			}
			return ev, nil
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		}
	}
}

func (s *Subscription) Close() error {
	return s.sub.Close()
}

func decode(raw []byte) (domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}
