package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

func newRedisStore(t *testing.T) (infra.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2, DisableIdentity: true})
	t.Cleanup(func() { _ = rdb.Close() })
	return infra.NewRedisStore(rdb), mr
}

func record(agentID string, n int, success bool, confidence float64) domain.ActivityRecord {
	return domain.ActivityRecord{
		ID:         fmt.Sprintf("rec-%d", n),
		AgentID:    agentID,
		Action:     "analyze_inventory",
		Parameters: map[string]interface{}{"n": n},
		Result:     domain.ActionResult{Success: success, Confidence: confidence},
		Timestamp:  time.Unix(int64(n), 0).UTC(),
	}
}

func TestActivityLog_EvictsOldestBeyondCapacity(t *testing.T) {
	store, mr := newRedisStore(t)
	log := NewActivityLog(store, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 1001; i++ {
		log.Append(ctx, record("inv-1", i, true, 0.9))
	}

	all, err := mr.List(infra.ActivityKey("inv-1"))
	require.NoError(t, err)
	assert.Len(t, all, 1000)

	recent, err := log.Recent(ctx, "inv-1", 1000)
	require.NoError(t, err)
	require.Len(t, recent, 1000)
	assert.Equal(t, "rec-1001", recent[0].ID)
	assert.Equal(t, "rec-2", recent[999].ID)
}

func TestActivityLog_RecentNewestFirst(t *testing.T) {
	store, _ := newRedisStore(t)
	log := NewActivityLog(store, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		log.Append(ctx, record("a", i, true, 0.5))
	}

	recent, err := log.Recent(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "rec-3", recent[0].ID)
	assert.Equal(t, "rec-2", recent[1].ID)

	none, err := log.Recent(ctx, "a", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestActivityLog_MetricsOverLastTen(t *testing.T) {
	store, _ := newRedisStore(t)
	log := NewActivityLog(store, zap.NewNop())
	ctx := context.Background()

	// 5 старых провалов выпадают из окна
	for i := 1; i <= 5; i++ {
		log.Append(ctx, record("f", i, false, 0))
	}
	for i := 6; i <= 15; i++ {
		success := i%2 == 0
		log.Append(ctx, record("f", i, success, 0.8))
	}

	m, err := log.Metrics(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, 10, m.TotalActions)
	assert.InDelta(t, 50.0, m.SuccessRate, 1e-9)
	assert.InDelta(t, 0.8, m.AverageConfidence, 1e-9)
	assert.Zero(t, m.Uptime)
}

func TestActivityLog_EmptyMetrics(t *testing.T) {
	store, _ := newRedisStore(t)
	m, err := NewActivityLog(store, zap.NewNop()).Metrics(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, domain.ActivityMetrics{}, m)
}

func TestActivityLog_SkipsMalformedRecords(t *testing.T) {
	store, mr := newRedisStore(t)
	log := NewActivityLog(store, zap.NewNop())
	ctx := context.Background()

	log.Append(ctx, record("a", 1, true, 1))
	_, err := mr.Lpush(infra.ActivityKey("a"), "{broken")
	require.NoError(t, err)

	recent, err := log.Recent(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "rec-1", recent[0].ID)
}

type brokenStore struct{ infra.Store }

func (brokenStore) ListPush(context.Context, string, []byte, int64) error {
	return errors.New("connection refused")
}

func (brokenStore) ListRange(context.Context, string, int64, int64) ([][]byte, error) {
	return nil, errors.New("connection refused")
}

func TestActivityLog_AppendFailureIsSwallowed(t *testing.T) {
	drops := 0
	archived := &memoryArchive{}
	log := NewActivityLog(brokenStore{}, zap.NewNop(), WithDropCounter(func() { drops++ }), WithArchive(archived))

	assert.NotPanics(t, func() { log.Append(context.Background(), record("a", 1, true, 1)) })
	assert.Equal(t, 1, drops)
	assert.Len(t, archived.records, 1)

	_, err := log.Metrics(context.Background(), "a")
	assert.Error(t, err)
}

func TestActivityLog_CustomCapacity(t *testing.T) {
	store, mr := newRedisStore(t)
	log := NewActivityLog(store, zap.NewNop(), WithCapacity(3), WithMetricsWindow(2))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		log.Append(ctx, record("a", i, i != 5, 1))
	}
	all, err := mr.List(infra.ActivityKey("a"))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	m, err := log.Metrics(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalActions)
	assert.InDelta(t, 50.0, m.SuccessRate, 1e-9)
}

type memoryArchive struct{ records []domain.ActivityRecord }

func (m *memoryArchive) Log(rec domain.ActivityRecord) { m.records = append(m.records, rec) }
