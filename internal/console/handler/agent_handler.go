package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/engine"
)

// AgentService — control plane агентов. Реализуется engine.Registry.
type AgentService interface {
	Deploy(ctx context.Context, d domain.Deployment) (*engine.Agent, error)
	Execute(ctx context.Context, agentID string, req domain.ActionRequest) (domain.ActionResult, error)
	Status(ctx context.Context, agentID string) (domain.AgentStatus, error)
	Control(ctx context.Context, agentID, command string) (domain.LifecycleState, error)
	Health() []string
}

type AgentHandler struct {
	service AgentService
	logger  *zap.Logger
}

func NewAgentHandler(s AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger.Named("agent-handler")}
}

// DeployRequest — тело POST /agents/deploy.
type DeployRequest struct {
	AgentID     string                 `json:"agent_id"`
	AgentType   string                 `json:"agent_type"`
	Mode        string                 `json:"mode,omitempty"`
	Config      map[string]interface{} `json:"config"`
	Permissions []string               `json:"permissions,omitempty"`
}

type controlRequest struct {
	Command string `json:"command"`
}

func (h *AgentHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Message: "invalid JSON body"})
		return
	}
	if req.Config == nil {
		req.Config = map[string]interface{}{}
	}

	agent, err := h.service.Deploy(r.Context(), domain.Deployment{
		AgentID:     req.AgentID,
		AgentType:   req.AgentType,
		Mode:        req.Mode,
		Config:      req.Config,
		Permissions: req.Permissions,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"agent_id": agent.ID(),
		"status":   "deployed",
	})
}

func (h *AgentHandler) Execute(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var req domain.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Message: "invalid JSON body"})
		return
	}
	if req.Parameters == nil {
		req.Parameters = map[string]interface{}{}
	}

	res, err := h.service.Execute(r.Context(), agentID, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Control принимает команду из ?action= или из тела {"command": ...}.
func (h *AgentHandler) Control(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	command := r.URL.Query().Get("action")
	if command == "" && r.ContentLength != 0 {
		var req controlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, h.logger, &domain.ValidationError{Message: "invalid JSON body"})
			return
		}
		command = req.Command
	}

	state, err := h.service.Control(r.Context(), agentID, command)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"agent_id":   agentID,
		"action":     command,
		"new_status": state,
	})
}

func (h *AgentHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"agents":    h.service.Health(),
	})
}
