package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

const (
	DefaultCapacity      = 1000 // записей на агента, старые вытесняются
	DefaultMetricsWindow = 10   // сколько последних записей учитывается в метриках
)

// Archiver — необязательное зеркало истории (например, Postgres).
type Archiver interface {
	Log(record domain.ActivityRecord)
}

// ActivityLog — ограниченный буфер истории действий агента во внешнем хранилище.
// Новые записи в голове списка, при переполнении вытесняется самая старая.
type ActivityLog struct {
	store    infra.Store
	capacity int64
	window   int64
	archive  Archiver
	logger   *zap.Logger

	onDropped func()
}

type Option func(*ActivityLog)

func WithCapacity(n int64) Option {
	return func(l *ActivityLog) {
		if n > 0 {
			l.capacity = n
		}
	}
}

func WithMetricsWindow(n int64) Option {
	return func(l *ActivityLog) {
		if n > 0 {
			l.window = n
		}
	}
}

func WithArchive(a Archiver) Option {
	return func(l *ActivityLog) { l.archive = a }
}

// WithDropCounter вызывается на каждую неудачную запись.
func WithDropCounter(fn func()) Option {
	return func(l *ActivityLog) { l.onDropped = fn }
}

func NewActivityLog(store infra.Store, logger *zap.Logger, opts ...Option) *ActivityLog {
	l := &ActivityLog{
		store:    store,
		capacity: DefaultCapacity,
		window:   DefaultMetricsWindow,
		logger:   logger.With(zap.String("mod", "activity")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append дописывает запись. Ошибки хранилища логируются и не пробрасываются:
// история вторична по отношению к самому действию.
func (l *ActivityLog) Append(ctx context.Context, rec domain.ActivityRecord) {
	if l.archive != nil {
		l.archive.Log(rec)
	}

	data, err := json.Marshal(rec)
	if err == nil {
		err = l.store.ListPush(ctx, infra.ActivityKey(rec.AgentID), data, l.capacity)
	}
	if err != nil {
		if l.onDropped != nil {
			l.onDropped()
		}
		l.logger.Warn("activity append failed",
			zap.String("agent_id", rec.AgentID),
			zap.String("action", rec.Action),
			zap.Error(err),
		)
	}
}

// Recent возвращает до n последних записей, новые первыми.
func (l *ActivityLog) Recent(ctx context.Context, agentID string, n int64) ([]domain.ActivityRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := l.store.ListRange(ctx, infra.ActivityKey(agentID), 0, n-1)
	if err != nil {
		return nil, fmt.Errorf("read activity of %s: %w", agentID, err)
	}

	out := make([]domain.ActivityRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.ActivityRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			l.logger.Warn("skipping malformed activity record", zap.String("agent_id", agentID), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Metrics считает агрегаты по окну последних записей.
// Uptime не заполняется: его знает только контроллер жизненного цикла.
func (l *ActivityLog) Metrics(ctx context.Context, agentID string) (domain.ActivityMetrics, error) {
	recent, err := l.Recent(ctx, agentID, l.window)
	if err != nil {
		return domain.ActivityMetrics{}, err
	}
	return Summarize(recent), nil
}

// Summarize — success_rate в процентах и средняя уверенность по переданным записям.
func Summarize(records []domain.ActivityRecord) domain.ActivityMetrics {
	m := domain.ActivityMetrics{TotalActions: len(records)}
	if len(records) == 0 {
		return m
	}

	var successes int
	var confidence float64
	for _, r := range records {
		if r.Result.Success {
			successes++
		}
		confidence += r.Result.Confidence
	}
	m.SuccessRate = float64(successes) / float64(len(records)) * 100
	m.AverageConfidence = confidence / float64(len(records))
	return m
}
