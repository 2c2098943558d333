package capability

import (
	"context"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const (
	ActionScoreNoise    = "score_noise"
	ActionRecommendPath = "recommend_path"
)

// Decision ищет шум и смещения в очереди решений.
type Decision struct{}

func NewDecision() *Decision { return &Decision{} }

func (d *Decision) Type() string { return TypeDecision }

func (d *Decision) Actions() []string { return []string{ActionScoreNoise, ActionRecommendPath} }

func (d *Decision) Lookup(action string) (Handler, bool) {
	switch action {
	case ActionScoreNoise:
		return d.scoreNoise, true
	case ActionRecommendPath:
		return d.recommendPath, true
	default:
		return nil, false
	}
}

func (d *Decision) scoreNoise(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	signals := []float64{0.5}
	if raw, present := params["signals"]; present {
		parsed, ok := floatsOf(raw)
		if !ok || len(parsed) == 0 {
			return domain.ActionResult{}, &domain.ValidationError{Field: "signals", Message: "must be a non-empty list of numbers"}
		}
		signals = parsed
	}

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"noise_score": round(1-mean(signals), 3),
			"signals":     signals,
		},
		Confidence: 0.74,
		Reasoning:  "Noise score derived from provided indicators",
	}, nil
}

func (d *Decision) recommendPath(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	priority := stringOr(params, "priority", "medium")

	recommendation, confidence := "defer", 0.7
	switch priority {
	case "critical":
		recommendation, confidence = "escalate", 0.91
	case "high":
		recommendation, confidence = "approve", 0.82
	}

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"recommendation": recommendation,
			"priority":       priority,
		},
		Confidence:       confidence,
		RequiresApproval: recommendation == "escalate",
		Reasoning:        "Recommendation produced from priority bands",
	}, nil
}
