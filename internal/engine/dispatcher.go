package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/capability"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

// ActivityRecorder — история действий агента.
type ActivityRecorder interface {
	Append(ctx context.Context, rec domain.ActivityRecord)
}

// Исходы действия для метрик
const (
	OutcomeSuccess       = "success"
	OutcomeFailure       = "failure"
	OutcomeUnknownAction = "unknown_action"
	OutcomePanic         = "panic"
)

// Dispatcher исполняет действия одного агента. Execute никогда не возвращает ошибку
// и не паникует: любой сбой обработчика становится неуспешным ActionResult.
type Dispatcher struct {
	agentID    string
	capability capability.Capability
	activity   ActivityRecorder
	events     Emitter
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewDispatcher(agentID string, c capability.Capability, activity ActivityRecorder, events Emitter, metrics *Metrics, logger *zap.Logger, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		agentID:    agentID,
		capability: c,
		activity:   activity,
		events:     events,
		metrics:    metrics,
		logger:     logger.With(zap.String("mod", "dispatcher"), zap.String("agent_id", agentID)),
		now:        now,
	}
}

func (d *Dispatcher) Capability() capability.Capability { return d.capability }

func (d *Dispatcher) Execute(ctx context.Context, req domain.ActionRequest) domain.ActionResult {
	ctx, span := otel.Tracer(infra.TracerName).Start(ctx, "dispatch "+req.Action)
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", d.agentID),
		attribute.String("agent.type", d.capability.Type()),
		attribute.String("agent.action", req.Action),
	)

	start := d.now()
	outcome := OutcomeSuccess

	var result domain.ActionResult
	handler, ok := d.capability.Lookup(req.Action)
	if !ok {
		outcome = OutcomeUnknownAction
		result = domain.UnknownAction(req.Action)
	} else {
		var err error
		result, err = d.invoke(ctx, handler, req)
		switch {
		case errors.Is(err, errHandlerPanic):
			outcome = OutcomePanic
			result = domain.Failure("%v", err)
		case err != nil:
			result = domain.Failure("%v", err)
		}
	}
	result = result.Normalize()
	if !result.Success && outcome == OutcomeSuccess {
		outcome = OutcomeFailure
	}

	elapsed := d.now().Sub(start)
	d.metrics.ActionDuration.WithLabelValues(d.capability.Type(), req.Action).Observe(elapsed.Seconds())
	d.metrics.ActionsTotal.WithLabelValues(d.capability.Type(), req.Action, outcome).Inc()
	span.SetAttributes(attribute.String("agent.outcome", outcome))
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}

	// Побочные записи не влияют на результат
	d.activity.Append(ctx, domain.ActivityRecord{
		ID:         uuid.New().String(),
		TraceID:    TraceIDFromContext(ctx),
		AgentID:    d.agentID,
		Action:     req.Action,
		Parameters: req.Parameters,
		Result:     result,
		Timestamp:  start.UTC(),
		DurationMs: elapsed.Milliseconds(),
	})
	d.events.Emit(ctx, d.agentID, domain.EventActionExecuted, map[string]interface{}{
		"action":     req.Action,
		"confidence": result.Confidence,
		"success":    result.Success,
	})

	if !result.Success {
		d.logger.Info("action failed",
			zap.String("action", req.Action),
			zap.String("outcome", outcome),
			zap.String("error", result.Error))
	}
	return result
}

var errHandlerPanic = errors.New("handler panic")

func (d *Dispatcher) invoke(ctx context.Context, h capability.Handler, req domain.ActionRequest) (res domain.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", zap.String("action", req.Action), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return h(ctx, req.Parameters, req.Context)
}
