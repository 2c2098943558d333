package capability

import (
	"context"
	"math"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const (
	ActionForecastCashFlow = "forecast_cash_flow"
	ActionEvaluateBudget   = "evaluate_budget"
	ActionAssessRisk       = "assess_risk"
)

// FinanceSettings — пороги, переопределяемые конфигурацией развертывания.
type FinanceSettings struct {
	CashFloor         float64
	VarianceThreshold float64
}

// Finance — экспресс-оценка финансового здоровья.
type Finance struct {
	settings FinanceSettings
}

func NewFinance(config map[string]interface{}) *Finance {
	return &Finance{settings: FinanceSettings{
		CashFloor:         floatOr(config, "cash_floor", 50000),
		VarianceThreshold: floatOr(config, "variance_threshold", 0.08),
	}}
}

func (f *Finance) Settings() FinanceSettings { return f.settings }

func (f *Finance) Type() string { return TypeFinance }

func (f *Finance) Actions() []string {
	return []string{ActionForecastCashFlow, ActionEvaluateBudget, ActionAssessRisk}
}

func (f *Finance) Lookup(action string) (Handler, bool) {
	switch action {
	case ActionForecastCashFlow:
		return f.forecastCashFlow, true
	case ActionEvaluateBudget:
		return f.evaluateBudget, true
	case ActionAssessRisk:
		return f.assessRisk, true
	default:
		return nil, false
	}
}

func (f *Finance) forecastCashFlow(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	horizon := intOr(params, "horizon_days", 14)
	if horizon <= 0 {
		return domain.ActionResult{}, &domain.ValidationError{Field: "horizon_days", Message: "must be positive"}
	}
	history := listOf(params["history"])

	forecast := make([]float64, horizon)
	confidence := 0.65
	if len(history) == 0 {
		baseline := floatOr(params, "baseline", f.settings.CashFloor)
		for i := range forecast {
			forecast[i] = baseline
		}
	} else {
		tail := history[max(0, len(history)-6):]
		values := make([]float64, len(tail))
		for i, item := range tail {
			values[i] = floatOr(item, "net", 0)
		}
		avg := mean(values)
		slope := (values[len(values)-1] - values[0]) / float64(max(len(values)-1, 1))
		for i := range forecast {
			forecast[i] = avg + slope*float64(i)
		}
		confidence = 0.78
	}

	gap := forecast[0] - f.settings.CashFloor
	recommendation := "monitor"
	if gap < 0 {
		recommendation = "secure credit line"
	}

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"forecast":       forecast,
			"buffer_gap":     gap,
			"recommendation": recommendation,
		},
		Confidence:       confidence,
		RequiresApproval: gap < 0,
		Reasoning:        "Derived from short-term net cash history",
	}, nil
}

func (f *Finance) evaluateBudget(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	planned := floatOr(params, "planned", 0)
	actual := floatOr(params, "actual", 0)
	variance := actual - planned

	variancePct := 0.0
	if planned != 0 {
		variancePct = variance / planned
	}
	status := "under"
	if variance > 0 {
		status = "over"
	}

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"planned":      planned,
			"actual":       actual,
			"variance":     variance,
			"variance_pct": round(variancePct, 4),
			"status":       status,
		},
		Confidence:       0.84,
		RequiresApproval: math.Abs(variancePct) > f.settings.VarianceThreshold,
		Reasoning:        "Variance calculated against configured tolerance",
	}, nil
}

func (f *Finance) assessRisk(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	metrics := mapOf(params["metrics"])
	liquidity := floatOr(metrics, "liquidity", 0.6)
	burn := floatOr(metrics, "burn_ratio", 0.4)
	arDays := floatOr(metrics, "ar_days", 45)

	score := 0.5*(1-liquidity) + 0.3*burn + 0.2*(arDays/120)
	score = math.Max(0, math.Min(1, score))

	tier := "low"
	switch {
	case score > 0.7:
		tier = "high"
	case score > 0.4:
		tier = "medium"
	}

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"risk_score": round(score, 3),
			"tier":       tier,
			"liquidity":  liquidity,
			"burn_ratio": burn,
			"ar_days":    arDays,
		},
		Confidence:       0.8,
		RequiresApproval: tier == "high",
		Reasoning:        "Weighted composite of liquidity, burn, and AR exposure",
	}, nil
}
