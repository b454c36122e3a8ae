package steps

import (
	"fmt"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/value"
)

// SignalKind enumerates the control-flow directives a match arm may raise.
// Signals are not failures: they unwind to the nearest enclosing scope that
// handles them (a `for` iteration, an action, or the executor), following
// the dynamic value model's "flow signals as first-class values" design.
type SignalKind string

const (
	SignalSkip  SignalKind = "skip"
	SignalRetry SignalKind = "retry"
	SignalJump  SignalKind = "jump"
	SignalQueue SignalKind = "queue"
	SignalAbort SignalKind = "abort"
)

// Signal is the error-shaped payload of a flow directive. It implements
// error so it can travel through ordinary Go error returns; callers that
// care distinguish it from a real failure with errors.As.
type Signal struct {
	Kind SignalKind

	Message string // abort

	Retry *astmodel.RetryPolicy // retry

	Target string          // jump
	Then   astmodel.JumpThen // jump

	QueueStore string      // queue
	QueueValue value.Value // queue
}

func (s *Signal) Error() string {
	switch s.Kind {
	case SignalSkip:
		return "skip signal"
	case SignalRetry:
		return "retry signal"
	case SignalJump:
		return fmt.Sprintf("jump signal to %q", s.Target)
	case SignalQueue:
		return fmt.Sprintf("queue signal to %q", s.QueueStore)
	case SignalAbort:
		return fmt.Sprintf("abort signal: %s", s.Message)
	default:
		return "unknown signal"
	}
}

// directiveSignal translates an AST flow directive into its runtime
// Signal. FlowContinue has no signal: it means "proceed normally."
func directiveSignal(d *astmodel.FlowDirective) (*Signal, error) {
	switch d.Kind {
	case astmodel.FlowContinue:
		return nil, nil
	case astmodel.FlowSkip:
		return &Signal{Kind: SignalSkip}, nil
	case astmodel.FlowAbort:
		return &Signal{Kind: SignalAbort, Message: d.Message}, nil
	case astmodel.FlowRetry:
		return &Signal{Kind: SignalRetry, Retry: d.Retry}, nil
	case astmodel.FlowJump:
		return &Signal{Kind: SignalJump, Target: d.Target, Then: d.Then}, nil
	case astmodel.FlowQueue:
		q := d.Queue
		if q == "" {
			q = "_queue"
		}
		return &Signal{Kind: SignalQueue, QueueStore: q}, nil
	default:
		return nil, fmt.Errorf("steps: unknown flow directive %q", d.Kind)
	}
}
