package domain

import (
	"fmt"
	"time"
)

// ActionRequest — именованное действие с параметрами и необязательным контекстом.
type ActionRequest struct {
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// ActionResult — единый формат ответа любого обработчика.
// Error заполнен тогда и только тогда, когда Success == false.
type ActionResult struct {
	Success          bool        `json:"success"`
	Data             interface{} `json:"data,omitempty"`
	Confidence       float64     `json:"confidence"`
	Reasoning        string      `json:"reasoning,omitempty"`
	RequiresApproval bool        `json:"requires_approval"`
	Error            string      `json:"error,omitempty"`
}

// Failure собирает неуспешный результат.
func Failure(format string, args ...interface{}) ActionResult {
	return ActionResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// UnknownAction — результат для действия, которого нет у агента.
func UnknownAction(action string) ActionResult {
	return Failure("Unknown action: %s", action)
}

// Normalize приводит результат к инвариантам: confidence в [0,1], error только у неуспешных.
func (r ActionResult) Normalize() ActionResult {
	switch {
	case r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}
	if r.Success {
		r.Error = ""
	} else if r.Error == "" {
		r.Error = "action failed"
	}
	return r
}

// ActivityRecord — одна запись в истории действий агента.
type ActivityRecord struct {
	ID         string                 `json:"id"`
	TraceID    string                 `json:"trace_id,omitempty"`
	AgentID    string                 `json:"agent_id"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
	Result     ActionResult           `json:"result"`
	Timestamp  time.Time              `json:"timestamp"`
	DurationMs int64                  `json:"duration_ms"`
}
