package capability

import (
	"context"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const (
	ActionEvaluateBatch = "evaluate_batch"
	ActionReleaseHold   = "release_hold"
)

// QA оценивает готовность партии к выпуску.
type QA struct{}

func NewQA() *QA { return &QA{} }

func (q *QA) Type() string { return TypeQA }

func (q *QA) Actions() []string { return []string{ActionEvaluateBatch, ActionReleaseHold} }

func (q *QA) Lookup(action string) (Handler, bool) {
	switch action {
	case ActionEvaluateBatch:
		return q.evaluateBatch, true
	case ActionReleaseHold:
		return q.releaseHold, true
	default:
		return nil, false
	}
}

func (q *QA) evaluateBatch(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	tests := mapOf(params["tests"])
	passed, failed, _ := splitTests(tests)

	decision, confidence := "pending", 0.6
	switch {
	case len(failed) > 0:
		decision, confidence = "reject", 0.95
	case len(passed) == len(tests):
		decision, confidence = "approve", 0.9
	}

	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"decision":     decision,
			"failed_tests": failed,
			"passed_tests": passed,
		},
		Confidence:       confidence,
		RequiresApproval: decision != "approve",
		Reasoning:        "QA check completed",
	}, nil
}

func (q *QA) releaseHold(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	release := boolOr(params, "force", false)
	return domain.ActionResult{
		Success: true,
		Data: map[string]interface{}{
			"batch":    params["batch_id"],
			"released": release,
		},
		Confidence:       0.72,
		RequiresApproval: !release,
		Reasoning:        "Hold release decision recorded",
	}, nil
}
