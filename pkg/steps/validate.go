package steps

import (
	"context"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/events"
	"github.com/mcclowes/reqon/pkg/rerrors"
)

// execValidate evaluates each constraint against the current response. A
// failing `error` severity constraint fails the step; a failing `warning`
// severity constraint emits an event and continues.
func execValidate(ctx context.Context, sc *Context, vs *astmodel.ValidateStep) error {
	current := sc.Response()

	for _, c := range vs.Constraints {
		node := c.Expr
		v, err := sc.Eval.Eval(sc, current, &node)
		if err != nil {
			return err
		}
		if v.Truthy() {
			continue
		}

		if c.Severity == astmodel.SeverityWarning {
			if sc.Broker != nil {
				sc.Broker.Publish(&events.Event{
					Type:    events.DataValidate,
					Mission: sc.Mission,
					RunID:   sc.RunID,
					Action:  sc.Action,
					Message: "constraint " + c.Name + " failed (warning)",
				})
			}
			continue
		}

		return &rerrors.ValidationFailed{Constraint: c.Name, Message: "assumption did not hold"}
	}
	return nil
}
