package executor

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/value"
)

// checkpointFor implements steps.Context.Checkpoint: the last committed
// sync checkpoint for (source, action), or the zero time if none exists.
func (e *Executor) checkpointFor(source, action string) time.Time {
	v, ok, err := e.syncStore.Get(context.Background(), source+":"+action)
	if err != nil || !ok {
		return time.Time{}
	}
	ts, ok := v.Field("timestamp")
	if !ok || ts.Kind != value.KindString {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ts.Str)
	if err != nil {
		return time.Time{}
	}
	return t
}

// commitCheckpoint writes the incremental-sync checkpoint for (source,
// action).
func (e *Executor) commitCheckpoint(ctx context.Context, source, action string, at time.Time) {
	rec := value.Object(map[string]value.Value{
		"timestamp": value.String(at.UTC().Format(time.RFC3339)),
	})
	if err := e.syncStore.Set(ctx, source+":"+action, rec); err != nil {
		e.logger.Warn().Err(err).Str("action", action).Msg("committing sync checkpoint failed")
	}
}

// commitCheckpoints runs after a successful action completion and commits
// a fresh checkpoint for every fetch step (at any nesting depth) that
// declared incremental-sync config.
func (e *Executor) commitCheckpoints(ctx context.Context, action *astmodel.Action, actionName string) {
	now := time.Now()
	walkFetchSteps(action.Steps, func(fs *astmodel.FetchStep) {
		if fs.Since == nil {
			return
		}
		e.commitCheckpoint(ctx, e.resolveSourceName(fs.Source), actionName, now)
	})
}

// checkpointSnapshot collects the current checkpoint value for every
// incremental fetch step reachable from the given (already completed)
// actions, for embedding in the execution-state record.
func (e *Executor) checkpointSnapshot(actionNames []string) map[string]string {
	out := map[string]string{}
	for _, name := range actionNames {
		action, ok := e.program.Actions[name]
		if !ok {
			continue
		}
		walkFetchSteps(action.Steps, func(fs *astmodel.FetchStep) {
			if fs.Since == nil {
				return
			}
			source := e.resolveSourceName(fs.Source)
			t := e.checkpointFor(source, name)
			if !t.IsZero() {
				out[source+":"+name] = t.UTC().Format(time.RFC3339)
			}
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (e *Executor) resolveSourceName(declared string) string {
	if declared != "" {
		return declared
	}
	for name := range e.sources {
		return name
	}
	return ""
}

func walkFetchSteps(steps []astmodel.Step, fn func(*astmodel.FetchStep)) {
	for i := range steps {
		s := &steps[i]
		switch s.Kind {
		case astmodel.StepFetch:
			fn(s.Fetch)
		case astmodel.StepFor:
			walkFetchSteps(s.For.Body, fn)
		case astmodel.StepMatch:
			for _, arm := range s.Match.Arms {
				walkFetchSteps(arm.Body, fn)
			}
		}
	}
}

var defaultActionRetry = astmodel.RetryPolicy{
	MaxAttempts:  3,
	Backoff:      astmodel.BackoffExponential,
	InitialDelay: 1000,
	MaxDelay:     30_000,
}

// actionBackoff computes the delay before a retry-signalled re-execution,
// the same shape as the HTTP client's request backoff.
func actionBackoff(attempt int, policy astmodel.RetryPolicy) time.Duration {
	var f float64
	switch policy.Backoff {
	case astmodel.BackoffLinear:
		f = float64(attempt)
	case astmodel.BackoffConstant:
		f = 1
	default:
		f = math.Pow(2, float64(attempt-1))
	}
	delayMS := float64(policy.InitialDelay) * f
	if max := float64(policy.MaxDelay); policy.MaxDelay > 0 && delayMS > max {
		delayMS = max
	}
	jitter := 1 + (rand.Float64()*2-1)*0.1
	return time.Duration(delayMS*jitter) * time.Millisecond
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
