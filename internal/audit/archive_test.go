package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

type captureWriter struct {
	mu      sync.Mutex
	batches [][]domain.ActivityRecord
	err     error
}

func (w *captureWriter) WriteBatch(_ context.Context, records []domain.ActivityRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, append([]domain.ActivityRecord(nil), records...))
	return w.err
}

func (w *captureWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func TestArchive_StopDrainsBuffer(t *testing.T) {
	w := &captureWriter{}
	a := NewArchive(w, 1000, time.Hour, zap.NewNop())
	a.Start()

	for i := 0; i < 250; i++ {
		a.Log(record("a", i, true, 1))
	}
	a.Stop()

	assert.Equal(t, 250, w.total())
	for _, b := range w.batches {
		assert.LessOrEqual(t, len(b), archiveBatchSize)
	}
}

func TestArchive_FlushesOnTicker(t *testing.T) {
	w := &captureWriter{}
	a := NewArchive(w, 10, 20*time.Millisecond, zap.NewNop())
	a.Start()
	defer a.Stop()

	a.Log(record("a", 1, true, 1))
	assert.Eventually(t, func() bool { return w.total() == 1 }, time.Second, 10*time.Millisecond)
}

func TestArchive_ShedsLoadWhenFull(t *testing.T) {
	w := &captureWriter{}
	a := NewArchive(w, 2, time.Hour, zap.NewNop())

	// воркер не запущен, очередь вмещает только две записи
	for i := 0; i < 5; i++ {
		a.Log(record("a", i, true, 1))
	}
	a.Start()
	a.Stop()

	assert.Equal(t, 2, w.total())
}

func TestArchive_LogAfterStopIsDropped(t *testing.T) {
	w := &captureWriter{}
	a := NewArchive(w, 10, time.Hour, zap.NewNop())
	a.Start()
	a.Stop()

	assert.NotPanics(t, func() { a.Log(record("a", 1, true, 1)) })
	assert.NotPanics(t, a.Stop)
	assert.Zero(t, w.total())
}

func TestArchive_WriteErrorDoesNotStopWorker(t *testing.T) {
	w := &captureWriter{err: errors.New("db down")}
	a := NewArchive(w, 10, 10*time.Millisecond, zap.NewNop())
	a.Start()

	a.Log(record("a", 1, true, 1))
	assert.Eventually(t, func() bool { return w.total() == 1 }, time.Second, 5*time.Millisecond)
	a.Log(record("a", 2, true, 1))
	a.Stop()

	assert.Equal(t, 2, w.total())
}
