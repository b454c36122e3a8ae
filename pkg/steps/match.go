package steps

import (
	"context"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/rerrors"
)

// execMatch evaluates the target, dispatches to the first arm whose schema
// and guard both match, and either raises the arm's flow directive as a
// Signal or executes its body steps in a child context.
func execMatch(ctx context.Context, sc *Context, ms *astmodel.MatchStep) error {
	targetNode := ms.Target
	target, err := sc.Eval.Eval(sc, sc.Response(), &targetNode)
	if err != nil {
		return err
	}

	for _, arm := range ms.Arms {
		ok, err := Matches(sc.Schemas, arm.Schema, target)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if arm.Guard.Kind != "" {
			guardNode := arm.Guard
			gv, err := sc.Eval.Eval(sc, target, &guardNode)
			if err != nil {
				return err
			}
			if !gv.Truthy() {
				continue
			}
		}

		if arm.Directive != nil {
			sig, err := directiveSignal(arm.Directive)
			if err != nil {
				return err
			}
			if sig == nil {
				return nil // continue
			}
			if sig.Kind == SignalQueue {
				sig.QueueValue = target
			}
			return sig
		}

		child := sc.Child()
		child.SetResponse(target)
		return ExecuteSteps(ctx, child, arm.Body)
	}

	return &rerrors.NoSchemaMatch{Schema: "no arm matched"}
}
