package domain

import (
	"fmt"
	"time"
)

// LifecycleState — текущее состояние агента в конечном автомате.
type LifecycleState string

const (
	StateIdle    LifecycleState = "idle"    // Развернут, но не запущен
	StateRunning LifecycleState = "running" // Принимает команды и шлет heartbeat
	StatePaused  LifecycleState = "paused"  // Uptime заморожен, heartbeat продолжается
	StateStopped LifecycleState = "stopped" // Может быть запущен повторно
)

// IsActive — состояния, в которых агент продолжает слать heartbeat.
func (s LifecycleState) IsActive() bool {
	return s == StateRunning || s == StatePaused
}

func (s LifecycleState) String() string { return string(s) }

// Command — команда управления жизненным циклом.
type Command string

const (
	CommandStart  Command = "start"
	CommandStop   Command = "stop"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
)

// ParseCommand проверяет, что команда входит в закрытый набор.
func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CommandStart, CommandStop, CommandPause, CommandResume:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
}

// DefaultMode — режим агента, если конфиг его не задал.
const DefaultMode = "autonomous"

// Deployment — описание развертывания агента (тело POST /agents/deploy).
type Deployment struct {
	AgentID     string                 `json:"agent_id"`
	AgentType   string                 `json:"agent_type"`
	Mode        string                 `json:"mode,omitempty"`
	Config      map[string]interface{} `json:"config"`
	Permissions []string               `json:"permissions,omitempty"`
	DeployedAt  time.Time              `json:"deployed_at"`
}

// ActivityMetrics — агрегаты по последним действиям агента.
type ActivityMetrics struct {
	TotalActions      int     `json:"total_actions"`
	SuccessRate       float64 `json:"success_rate"` // в процентах, 0..100
	AverageConfidence float64 `json:"average_confidence"`
	Uptime            float64 `json:"uptime"` // секунды
}

// AgentStatus — ответ на запрос статуса агента.
type AgentStatus struct {
	AgentID          string           `json:"agent_id"`
	Type             string           `json:"type"`
	State            LifecycleState   `json:"state"`
	Mode             string           `json:"mode"`
	Metrics          ActivityMetrics  `json:"metrics"`
	RecentActivities []ActivityRecord `json:"recent_activities"`
}
