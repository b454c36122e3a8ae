package steps

import (
	"context"
	"errors"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/events"
	"github.com/mcclowes/reqon/pkg/log"
	"github.com/mcclowes/reqon/pkg/metrics"
	"github.com/mcclowes/reqon/pkg/rerrors"
)

// ExecuteSteps runs a sequence of steps in order, stopping at the first
// error or signal (including a nested scope's propagated signal).
func ExecuteSteps(ctx context.Context, sc *Context, steps []astmodel.Step) error {
	for i := range steps {
		if err := Execute(ctx, sc, &steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// Execute dispatches one step to its handler, emitting the step.start /
// step.complete (or step.error) event pair every handler is responsible
// for. A Signal is not an error outcome: it is logged and published as a
// completion, since it is part of the control-flow surface rather than a
// failure.
func Execute(ctx context.Context, sc *Context, step *astmodel.Step) error {
	logger := log.WithAction(sc.Action)

	publish(sc, events.StepStart, step.ID, "")

	err := dispatch(ctx, sc, step)

	var sig *Signal
	isSignal := errors.As(err, &sig)

	switch {
	case err == nil || isSignal:
		outcome := "ok"
		if isSignal {
			outcome = string(sig.Kind)
		}
		metrics.StepsTotal.WithLabelValues(sc.Action, string(step.Kind), outcome).Inc()
		publish(sc, events.StepComplete, step.ID, "")
	default:
		metrics.StepsTotal.WithLabelValues(sc.Action, string(step.Kind), "error").Inc()
		logger.Warn().Err(err).Str("step", step.ID).Str("kind", string(step.Kind)).Msg("step failed")
		publish(sc, events.StepError, step.ID, err.Error())
	}

	return err
}

func dispatch(ctx context.Context, sc *Context, step *astmodel.Step) error {
	switch step.Kind {
	case astmodel.StepFetch:
		return execFetch(ctx, sc, step.Fetch, step.ID)
	case astmodel.StepFor:
		return execFor(ctx, sc, step.For)
	case astmodel.StepMap:
		return execMap(ctx, sc, step.Map)
	case astmodel.StepApply:
		return execApply(ctx, sc, step.Apply)
	case astmodel.StepValidate:
		return execValidate(ctx, sc, step.Validate)
	case astmodel.StepStore:
		return execStore(ctx, sc, step.Store)
	case astmodel.StepMatch:
		return execMatch(ctx, sc, step.Match)
	case astmodel.StepLet:
		return execLet(ctx, sc, step.Let)
	case astmodel.StepWait:
		return execWait(ctx, sc, step.Wait)
	default:
		return &rerrors.InternalError{Reason: "unknown step kind " + string(step.Kind)}
	}
}

func publish(sc *Context, t events.Type, stepID, message string) {
	if sc.Broker == nil {
		return
	}
	sc.Broker.Publish(&events.Event{
		Type:    t,
		Mission: sc.Mission,
		RunID:   sc.RunID,
		Action:  sc.Action,
		Stage:   sc.Stage,
		Step:    stepID,
		Message: message,
	})
}
