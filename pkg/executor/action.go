package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/steps"
)

// runAction executes one named action's steps in a fresh child of the
// root context, interpreting the flow signals a step may raise. depth
// bounds jump-chain recursion.
func (e *Executor) runAction(ctx context.Context, actionName string, depth int) error {
	if depth > e.maxJumpDepth {
		return &rerrors.JumpCycle{Origin: actionName, Depth: depth}
	}
	action, ok := e.program.Actions[actionName]
	if !ok {
		return &rerrors.InternalError{Reason: fmt.Sprintf("unknown action %q", actionName)}
	}

	attempt := 1
	idx := 0
	child := e.rootCtx.Child()
	child.Action = actionName

	for idx < len(action.Steps) {
		select {
		case <-ctx.Done():
			return &rerrors.Cancelled{Action: actionName}
		default:
		}

		step := &action.Steps[idx]
		err := steps.Execute(ctx, child, step)
		if err == nil {
			idx++
			continue
		}

		var sig *steps.Signal
		if !errors.As(err, &sig) {
			return err
		}

		switch sig.Kind {
		case steps.SignalSkip:
			return nil

		case steps.SignalAbort:
			return &rerrors.Aborted{Action: actionName, Message: sig.Message}

		case steps.SignalRetry:
			policy := sig.Retry
			if policy == nil {
				policy = &defaultActionRetry
			}
			maxAttempts := policy.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = defaultActionRetry.MaxAttempts
			}
			if attempt >= maxAttempts {
				return &rerrors.RetryExhausted{Action: actionName, Attempts: attempt}
			}
			if err := contextSleep(ctx, actionBackoff(attempt, *policy)); err != nil {
				return err
			}
			attempt++
			idx = 0
			child = e.rootCtx.Child()
			child.Action = actionName

		case steps.SignalJump:
			if err := e.runAction(ctx, sig.Target, depth+1); err != nil {
				return err
			}
			if sig.Then == astmodel.JumpThenRetry {
				attempt = 1
				idx = 0
				child = e.rootCtx.Child()
				child.Action = actionName
				continue
			}
			idx++

		case steps.SignalQueue:
			st, ok := child.Stores[sig.QueueStore]
			if !ok {
				return &rerrors.ConfigError{Reason: fmt.Sprintf("queue directive references undeclared store %q", sig.QueueStore)}
			}
			if err := st.Set(ctx, uuid.NewString(), sig.QueueValue); err != nil {
				return err
			}
			return nil

		default:
			return &rerrors.InternalError{Reason: fmt.Sprintf("unknown signal kind %q", sig.Kind)}
		}
	}

	e.commitCheckpoints(ctx, action, actionName)
	return nil
}
