package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/audit"
	"github.com/xela07ax/agent-orchestrator/internal/bus"
	"github.com/xela07ax/agent-orchestrator/internal/capability"
	"github.com/xela07ax/agent-orchestrator/internal/console/handler"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/engine"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

type testEnv struct {
	srv *httptest.Server
	reg *engine.Registry
	mr  *miniredis.Miniredis
}

func newTestEnv(t *testing.T, cfg infra.ServerConfig) testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2, DisableIdentity: true})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := zap.NewNop()
	store := infra.NewRedisStore(rdb)
	promReg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(promReg)
	events := bus.New(store, logger)
	reg := engine.NewRegistry(capability.DefaultCatalog(nil), audit.NewActivityLog(store, logger), events, nil, store, metrics, logger)
	gw := engine.NewStreamGateway(reg, events, 20*time.Millisecond, metrics, logger)

	s := NewControlServer(cfg, logger, promReg,
		handler.NewAgentHandler(reg, logger),
		handler.NewStreamHandler(gw, nil, logger),
	)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return testEnv{srv: srv, reg: reg, mr: mr}
}

func (e testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestControlPlane_DeployExecuteStatus(t *testing.T) {
	env := newTestEnv(t, infra.ServerConfig{})

	code, body := env.do(t, http.MethodPost, "/agents/deploy", `{"agent_id":"inv-7","agent_type":"inventory","config":{}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"success": true, "agent_id": "inv-7", "status": "deployed"}, body)

	code, body = env.do(t, http.MethodPost, "/agents/inv-7/execute",
		`{"action":"analyze_inventory","parameters":{"inventories":[{"sku":"A","quantity":5,"reorderPoint":10,"reorderQty":20}]}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 0.925, body["confidence"], 1e-9)
	low := body["data"].(map[string]interface{})["low_stock_items"].([]interface{})
	require.Len(t, low, 1)
	assert.Equal(t, "high", low[0].(map[string]interface{})["urgency"])

	code, body = env.do(t, http.MethodPost, "/agents/inv-7/execute", `{"action":"__nonexistent__","parameters":{}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Unknown action: __nonexistent__", body["error"])

	code, body = env.do(t, http.MethodGet, "/agents/inv-7/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])
	assert.NotContains(t, body, "status")
	assert.Equal(t, "autonomous", body["mode"])
	metrics := body["metrics"].(map[string]interface{})
	assert.EqualValues(t, 2, metrics["total_actions"])
	assert.EqualValues(t, 50, metrics["success_rate"])
	assert.Len(t, body["recent_activities"], 2)
}

func TestControlPlane_Errors(t *testing.T) {
	env := newTestEnv(t, infra.ServerConfig{})

	code, body := env.do(t, http.MethodGet, "/agents/ghost-agent/status", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["error"])

	code, body = env.do(t, http.MethodPost, "/agents/ghost-agent/execute", `{"action":"x"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["error"])

	code, body = env.do(t, http.MethodPost, "/agents/deploy", `{"agent_id":"x","agent_type":"warp_drive"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unknown_type", body["error"])

	code, body = env.do(t, http.MethodPost, "/agents/deploy", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["error"])

	code, _ = env.do(t, http.MethodPost, "/agents/deploy", `{"agent_id":"q1","agent_type":"qa"}`)
	require.Equal(t, http.StatusOK, code)
	code, body = env.do(t, http.MethodPost, "/agents/q1/control?action=explode", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_command", body["error"])
}

func TestControlPlane_FinanceControlScenario(t *testing.T) {
	env := newTestEnv(t, infra.ServerConfig{})

	code, _ := env.do(t, http.MethodPost, "/agents/deploy", `{"agent_id":"f1","agent_type":"finance","config":{}}`)
	require.Equal(t, http.StatusOK, code)

	for _, step := range []struct{ cmd, want string }{
		{"start", "running"},
		{"pause", "paused"},
		{"stop", "stopped"},
	} {
		code, body := env.do(t, http.MethodPost, "/agents/f1/control?action="+step.cmd, "")
		require.Equal(t, http.StatusOK, code, step.cmd)
		assert.Equal(t, step.want, body["new_status"], step.cmd)
		assert.Equal(t, step.cmd, body["action"])
	}

	// Команда в теле запроса
	code, body := env.do(t, http.MethodPost, "/agents/f1/control", `{"command":"start"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["new_status"])
}

func TestControlPlane_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, infra.ServerConfig{})
	require.NoError(t, env.reg.SeedDefaults(context.Background()))

	code, body := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Len(t, body["agents"], 6)
	assert.Equal(t, "decision-agent-01", body["agents"].([]interface{})[0])

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "orchestrator_agents_registered 6")
}

func TestControlPlane_RateLimited(t *testing.T) {
	env := newTestEnv(t, infra.ServerConfig{RateLimit: 0.001, RateBurst: 1})

	code, _ := env.do(t, http.MethodGet, "/agents/ghost/status", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := env.do(t, http.MethodGet, "/agents/ghost/status", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", body["error"])

	code, _ = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code, "health is not rate limited")
}

func wsURL(env testEnv, agentID string) string {
	return "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/agents/" + agentID
}

func TestStream_UnknownAgentClosedWith4004(t *testing.T) {
	env := newTestEnv(t, infra.ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(env, "ghost-agent"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var frame engine.Frame
	err = wsjson.Read(ctx, conn, &frame)
	require.Error(t, err)
	assert.Equal(t, handler.StatusAgentNotFound, websocket.CloseStatus(err))
}

func TestStream_HeartbeatAndEventFrames(t *testing.T) {
	env := newTestEnv(t, infra.ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := env.reg.Deploy(ctx, domain.Deployment{AgentID: "a1", AgentType: capability.TypeLogistics})
	require.NoError(t, err)

	conn, _, err := websocket.Dial(ctx, wsURL(env, "a1"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// Ключи кадра проверяются на сыром JSON
	var raw map[string]interface{}
	require.NoError(t, wsjson.Read(ctx, conn, &raw))
	assert.Equal(t, engine.FrameHeartbeat, raw["type"])
	assert.Equal(t, "idle", raw["state"])
	assert.Contains(t, raw, "timestamp")
	assert.NotContains(t, raw, "agent_status")

	_, err = env.reg.Execute(ctx, "a1", domain.ActionRequest{Action: capability.ActionTrackShipment})
	require.NoError(t, err)

	for {
		var f engine.Frame
		require.NoError(t, wsjson.Read(ctx, conn, &f))
		if f.Type != engine.FrameEvent {
			continue
		}
		require.NotNil(t, f.Data)
		assert.Equal(t, domain.EventActionExecuted, f.Data.Type)
		assert.Equal(t, capability.ActionTrackShipment, f.Data.Payload["action"])
		break
	}

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}
