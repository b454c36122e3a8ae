package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/rerrors"
)

// runStage executes a stage's actions: inline when there is exactly one,
// concurrently (one goroutine per action, each against its own child
// context) otherwise. A single action's failure never aborts its siblings
// in the same stage unless the failure is an abort signal, in which case
// the stage's shared context is cancelled so in-flight siblings observe it
// at their next suspension point.
func (e *Executor) runStage(ctx context.Context, stage astmodel.Stage) (completed []string, errs []ExecutionError, aborted bool) {
	if len(stage.Actions) == 1 {
		name := stage.Actions[0]
		if err := e.runAction(ctx, name, 0); err != nil {
			return nil, []ExecutionError{errorFor(name, err)}, isAborted(err)
		}
		return []string{name}, nil, false
	}

	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, name := range stage.Actions {
		wg.Add(1)
		go func(actionName string) {
			defer wg.Done()
			err := e.runAction(stageCtx, actionName, 0)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, errorFor(actionName, err))
				if isAborted(err) {
					aborted = true
					cancel()
				}
				return
			}
			completed = append(completed, actionName)
		}(name)
	}
	wg.Wait()

	return completed, errs, aborted
}

func isAborted(err error) bool {
	var a *rerrors.Aborted
	return errors.As(err, &a)
}

func errorFor(action string, err error) ExecutionError {
	return ExecutionError{Action: action, Kind: errorKind(err), Message: err.Error()}
}

func errorKind(err error) string {
	switch {
	case asKind[*rerrors.ConfigError](err):
		return "config"
	case asKind[*rerrors.StoreError](err):
		return "store"
	case asKind[*rerrors.HTTPError](err):
		return "http"
	case asKind[*rerrors.NetworkError](err):
		return "network"
	case asKind[*rerrors.AuthError](err):
		return "auth"
	case asKind[*rerrors.CircuitOpen](err):
		return "circuit_open"
	case asKind[*rerrors.RateLimited](err):
		return "rate_limited"
	case asKind[*rerrors.ValidationFailed](err):
		return "validation_failed"
	case asKind[*rerrors.NoTransformMatch](err):
		return "no_transform_match"
	case asKind[*rerrors.NoSchemaMatch](err):
		return "no_schema_match"
	case asKind[*rerrors.PaginationLimit](err):
		return "pagination_limit"
	case asKind[*rerrors.WebhookTimeout](err):
		return "webhook_timeout"
	case asKind[*rerrors.Cancelled](err):
		return "cancelled"
	case asKind[*rerrors.Aborted](err):
		return "aborted"
	case asKind[*rerrors.RetryExhausted](err):
		return "retry_exhausted"
	case asKind[*rerrors.JumpCycle](err):
		return "jump_cycle"
	case asKind[*rerrors.InvalidCollection](err):
		return "invalid_collection"
	case asKind[*rerrors.InternalError](err):
		return "internal"
	default:
		return "unknown"
	}
}

func asKind[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
