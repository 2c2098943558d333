package capability

import (
	"context"
	"time"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const (
	ActionScheduleOrder  = "schedule_order"
	ActionReportOEE      = "report_oee"
	ActionAdjustCapacity = "adjust_capacity"
)

// Production — планирование производства по простым эвристикам.
type Production struct {
	now func() time.Time
}

func NewProduction(now func() time.Time) *Production {
	return &Production{now: now}
}

func (p *Production) Type() string { return TypeProduction }

func (p *Production) Actions() []string {
	return []string{ActionScheduleOrder, ActionReportOEE, ActionAdjustCapacity}
}

func (p *Production) Lookup(action string) (Handler, bool) {
	switch action {
	case ActionScheduleOrder:
		return p.scheduleOrder, true
	case ActionReportOEE:
		return p.reportOEE, true
	case ActionAdjustCapacity:
		return p.adjustCapacity, true
	default:
		return nil, false
	}
}

func (p *Production) scheduleOrder(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	start := p.now().UTC()
	hours := floatOr(params, "duration_hours", 4)
	end := start.Add(time.Duration(hours * float64(time.Hour)))

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"order_id":        stringOr(params, "order_id", "PO-UNKNOWN"),
			"line":            stringOr(params, "line_id", "LINE-A"),
			"scheduled_start": start.Format(time.RFC3339),
			"scheduled_end":   end.Format(time.RFC3339),
		},
		Confidence: 0.9,
		Reasoning:  "Scheduled using default capacity heuristics",
	}, nil
}

func (p *Production) reportOEE(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	availability := floatOr(params, "availability", 0.92)
	performance := floatOr(params, "performance", 0.88)
	quality := floatOr(params, "quality", 0.98)

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"availability": availability,
			"performance":  performance,
			"quality":      quality,
			"oee":          round(availability*performance*quality, 3),
		},
		Confidence: 0.82,
		Reasoning:  "Derived from provided telemetry",
	}, nil
}

func (p *Production) adjustCapacity(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	delta := floatOr(params, "delta_units", 100)
	recommendation := "Approve"
	if delta >= 150 {
		recommendation = "Escalate"
	}

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"shift":          stringOr(params, "shift", "B"),
			"delta_units":    delta,
			"recommendation": recommendation,
		},
		Confidence:       0.76,
		RequiresApproval: delta >= 200,
		Reasoning:        "Capacity adjustment evaluated against historical throughput",
	}, nil
}
