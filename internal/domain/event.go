package domain

import "time"

// Типы событий, публикуемых в канал агента.
const (
	EventAgentStarted   = "agent_started"
	EventAgentStopped   = "agent_stopped"
	EventAgentPaused    = "agent_paused"
	EventAgentResumed   = "agent_resumed"
	EventHeartbeat      = "heartbeat"
	EventActionExecuted = "action_executed"
)

// Event — эфемерное сообщение шины. Доставка at-most-once, без повторов.
type Event struct {
	Type      string                 `json:"type"`
	AgentID   string                 `json:"agent_id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}
