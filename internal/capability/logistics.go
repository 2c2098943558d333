package capability

import (
	"context"
	"time"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const (
	ActionTrackShipment   = "track_shipment"
	ActionAssessColdChain = "assess_cold_chain"
)

// Logistics — трекинг отправок и контроль холодовой цепи.
type Logistics struct {
	now func() time.Time
}

func NewLogistics(now func() time.Time) *Logistics {
	return &Logistics{now: now}
}

func (l *Logistics) Type() string { return TypeLogistics }

func (l *Logistics) Actions() []string { return []string{ActionTrackShipment, ActionAssessColdChain} }

func (l *Logistics) Lookup(action string) (Handler, bool) {
	switch action {
	case ActionTrackShipment:
		return l.trackShipment, true
	case ActionAssessColdChain:
		return l.assessColdChain, true
	default:
		return nil, false
	}
}

func (l *Logistics) trackShipment(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	checkpoints := append([]map[string]interface{}(nil), listOf(params["checkpoints"])...)
	checkpoints = append(checkpoints, map[string]interface{}{
		"location":  stringOr(params, "current_loc", "Unknown"),
		"status":    stringOr(params, "status", "IN_TRANSIT"),
		"timestamp": l.now().UTC().Format(time.RFC3339),
	})
	if len(checkpoints) > 5 {
		checkpoints = checkpoints[len(checkpoints)-5:]
	}

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"shipment_id": params["shipment_id"],
			"checkpoints": checkpoints,
		},
		Confidence: 0.8,
		Reasoning:  "Tracking feed updated",
	}, nil
}

func (l *Logistics) assessColdChain(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	threshold := floatOr(params, "threshold", 8)
	breaches := []map[string]interface{}{}
	for _, r := range listOf(params["readings"]) {
		temp, ok := toFloat(r["temp"])
		if !ok {
			return domain.ActionResult{}, &domain.ValidationError{Field: "readings.temp", Message: "must be a number"}
		}
		if temp > threshold {
			breaches = append(breaches, r)
		}
	}

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"breaches":  breaches,
			"compliant": len(breaches) == 0,
		},
		Confidence:       0.78,
		RequiresApproval: len(breaches) > 0,
		Reasoning:        "Cold-chain telemetry scanned",
	}, nil
}
