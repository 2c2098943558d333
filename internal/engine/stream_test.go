package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/capability"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

type chanSink struct {
	frames chan Frame
	err    error
}

func (s *chanSink) Send(_ context.Context, f Frame) error {
	if s.err != nil {
		return s.err
	}
	s.frames <- f
	return nil
}

func nextFrame(t *testing.T, frames <-chan Frame, typ string) Frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-frames:
			if f.Type == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame received", typ)
		}
	}
}

func TestStreamGateway_UnknownAgent(t *testing.T) {
	f := newRegistry(t)
	gw := NewStreamGateway(f.reg, f.events, 10*time.Millisecond, f.metrics, zap.NewNop())
	sink := &chanSink{frames: make(chan Frame, 1)}

	err := gw.Serve(context.Background(), "ghost-agent", sink)

	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
	assert.Empty(t, sink.frames)
}

func TestStreamGateway_HeartbeatsAndEvents(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()
	_, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "a1", AgentType: capability.TypeQA})
	require.NoError(t, err)

	gw := NewStreamGateway(f.reg, f.events, 10*time.Millisecond, f.metrics, zap.NewNop())
	sink := &chanSink{frames: make(chan Frame, 64)}
	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- gw.Serve(streamCtx, "a1", sink) }()

	hb := nextFrame(t, sink.frames, FrameHeartbeat)
	assert.Equal(t, domain.StateIdle, hb.State)
	assert.False(t, hb.Timestamp.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OpenStreams))

	// Первый кадр уходит после подписки, значит событие до нее уже не потеряется
	_, err = f.reg.Control(ctx, "a1", "start")
	require.NoError(t, err)

	ev := nextFrame(t, sink.frames, FrameEvent)
	require.NotNil(t, ev.Data)
	assert.Equal(t, domain.EventAgentStarted, ev.Data.Type)
	assert.Equal(t, "a1", ev.Data.AgentID)

	hb = nextFrame(t, sink.frames, FrameHeartbeat)
	assert.Equal(t, domain.StateRunning, hb.State)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.OpenStreams))
}

func TestStreamGateway_StopsOnWriteError(t *testing.T) {
	f := newRegistry(t)
	ctx := context.Background()
	_, err := f.reg.Deploy(ctx, domain.Deployment{AgentID: "a1", AgentType: capability.TypeQA})
	require.NoError(t, err)

	gw := NewStreamGateway(f.reg, f.events, 10*time.Millisecond, f.metrics, zap.NewNop())
	broken := errors.New("client went away")

	err = gw.Serve(ctx, "a1", &chanSink{err: broken})
	assert.ErrorIs(t, err, broken)
}
