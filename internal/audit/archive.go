package audit

/*
Файл archive.go — асинхронное зеркало истории действий во внешнее долговременное хранилище.

Redis держит только последние записи каждого агента; архив копит всё.
- Non-blocking: Log никогда не блокирует горячий путь исполнения действия,
  при переполнении очереди запись сбрасывается (Load Shedding).
- Batching: запись пачками по размеру или по таймеру.
- Drain: Stop закрывает вход и дожидается финального flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const archiveBatchSize = 100

// BatchWriter — физическое хранилище архива.
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []domain.ActivityRecord) error
}

type Archive struct {
	ch     chan domain.ActivityRecord
	repo   BatchWriter
	flush  time.Duration
	logger *zap.Logger
	wg     sync.WaitGroup
	closed atomic.Bool

	onFill func(n int) // заполненность буфера для метрик, может быть nil
}

func NewArchive(repo BatchWriter, bufferSize int, flushEvery time.Duration, logger *zap.Logger) *Archive {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushEvery <= 0 {
		flushEvery = 500 * time.Millisecond
	}
	return &Archive{
		ch:     make(chan domain.ActivityRecord, bufferSize),
		repo:   repo,
		flush:  flushEvery,
		logger: logger.With(zap.String("mod", "archive")),
	}
}

// OnBufferFill подписывает наблюдателя на размер очереди после каждой операции.
func (a *Archive) OnBufferFill(fn func(n int)) { a.onFill = fn }

func (a *Archive) Start() {
	a.wg.Add(1)
	go a.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет.
func (a *Archive) Stop() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.logger.Info("stopping archive: flushing buffer")
	close(a.ch)
	a.wg.Wait()
	a.logger.Info("archive stopped")
}

func (a *Archive) Log(rec domain.ActivityRecord) {
	if a.closed.Load() {
		a.logger.Warn("activity record dropped: archive is stopping", zap.String("id", rec.ID))
		return
	}

	defer func() {
		// close(a.ch) мог случиться между проверкой флага и отправкой
		if recover() != nil {
			a.logger.Warn("activity record dropped: archive is stopping", zap.String("id", rec.ID))
		}
	}()

	select {
	case a.ch <- rec:
		if a.onFill != nil {
			a.onFill(len(a.ch))
		}
	default:
		a.logger.Error("archive_buffer_overflow",
			zap.String("agent_id", rec.AgentID),
			zap.String("trace_id", rec.TraceID),
		)
	}
}

func (a *Archive) worker() {
	defer a.wg.Done()

	batch := make([]domain.ActivityRecord, 0, archiveBatchSize)
	ticker := time.NewTicker(a.flush)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть уже закрыт
		if err := a.repo.WriteBatch(context.Background(), batch); err != nil {
			a.logger.Error("archive flush failed", zap.Int("records", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		if a.onFill != nil {
			a.onFill(len(a.ch))
		}
	}

	for {
		select {
		case rec, ok := <-a.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= archiveBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
