package engine

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"

	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

// ReliabilitySettings — параметры защиты записей в хранилище.
type ReliabilitySettings struct {
	Name         string
	Attempts     uint
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MaxFailures  uint32
	OperationTTL time.Duration // таймаут одной попытки
}

// ReliableStore оборачивает записи в хранилище предохранителем. Ретраи только у
// идемпотентного Set: повтор LPUSH или PUBLISH после таймаута на клиенте может
// задублировать запись, уже принятую сервером.
// Чтения и подписки идут напрямую: их ошибки видит вызывающий.
type ReliableStore struct {
	next    infra.Store
	cb      *gobreaker.CircuitBreaker
	retries uint
	ttl     time.Duration
}

var _ infra.Store = (*ReliableStore)(nil)

func NewReliableStore(next infra.Store, s ReliabilitySettings, metrics *Metrics) *ReliableStore {
	if s.Name == "" {
		s.Name = "store"
	}
	if s.Attempts == 0 {
		s.Attempts = 1
	}
	if s.OperationTTL <= 0 {
		s.OperationTTL = 2 * time.Second
	}

	gauge := metrics.CircuitBreakerState.WithLabelValues(s.Name)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > s.MaxFailures
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			gauge.Set(float64(to))
		},
	})

	return &ReliableStore{next: next, cb: cb, retries: s.Attempts, ttl: s.OperationTTL}
}

func (s *ReliableStore) guard(ctx context.Context, attempts uint, op func(ctx context.Context) error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(attempts),
			retry.DelayType(retry.BackOffDelay),
		)
		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, s.ttl)
			defer cancel()
			return op(tCtx)
		})
	})
	return err
}

func (s *ReliableStore) ListPush(ctx context.Context, key string, value []byte, limit int64) error {
	return s.guard(ctx, 1, func(ctx context.Context) error {
		return s.next.ListPush(ctx, key, value, limit)
	})
}

func (s *ReliableStore) Set(ctx context.Context, key string, value []byte) error {
	return s.guard(ctx, s.retries, func(ctx context.Context) error {
		return s.next.Set(ctx, key, value)
	})
}

func (s *ReliableStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.guard(ctx, 1, func(ctx context.Context) error {
		return s.next.Publish(ctx, channel, payload)
	})
}

func (s *ReliableStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	return s.next.ListRange(ctx, key, start, stop)
}

func (s *ReliableStore) Subscribe(ctx context.Context, channel string) (infra.Subscription, error) {
	return s.next.Subscribe(ctx, channel)
}

func (s *ReliableStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}
