package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/engine"
)

// StatusAgentNotFound — код закрытия стрима для неизвестного агента.
const StatusAgentNotFound websocket.StatusCode = 4004

const writeTimeout = 5 * time.Second

// Streamer — источник кадров стрима. Реализуется engine.StreamGateway.
type Streamer interface {
	Serve(ctx context.Context, agentID string, sink engine.FrameSink) error
}

type StreamHandler struct {
	streamer       Streamer
	originPatterns []string
	logger         *zap.Logger
}

func NewStreamHandler(s Streamer, originPatterns []string, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{streamer: s, originPatterns: originPatterns, logger: logger.Named("stream-handler")}
}

type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) Send(ctx context.Context, f engine.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, f)
}

// Stream — GET /ws/agents/{id}. Клиент ничего не шлет: чтение нужно только,
// чтобы заметить закрытие соединения.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	err = h.streamer.Serve(ctx, agentID, wsSink{conn: conn})
	switch {
	case errors.Is(err, domain.ErrAgentNotFound):
		_ = conn.Close(StatusAgentNotFound, "Agent not found")
	case err != nil && ctx.Err() == nil:
		h.logger.Warn("stream aborted", zap.String("agent_id", agentID), zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	default:
		h.logger.Info("websocket disconnected", zap.String("agent_id", agentID))
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}
