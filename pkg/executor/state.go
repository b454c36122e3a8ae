package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcclowes/reqon/pkg/value"
)

// StageStatus is the recorded outcome of one pipeline stage.
type StageStatus struct {
	Name             string          `json:"name"`
	Status           string          `json:"status"`
	ActionsCompleted []string        `json:"actionsCompleted"`
	Checkpoints      map[string]string `json:"checkpoints,omitempty"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ExecutionError is one failure recorded against the mission run.
type ExecutionError struct {
	Action  string `json:"action,omitempty"`
	Step    string `json:"step,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ExecutionResult is the terminal outcome Run returns.
type ExecutionResult struct {
	Mission   string
	RunID     string
	Success   bool
	StartedAt time.Time
	EndedAt   time.Time
	Errors    []ExecutionError
	Stages    []StageStatus
}

// executionState is the on-disk shape persisted between stages and read
// back on --resume.
type executionState struct {
	Mission      string           `json:"mission"`
	RunID        string           `json:"runId"`
	StartedAt    time.Time        `json:"startedAt"`
	CurrentStage int              `json:"currentStage"`
	Stages       []StageStatus    `json:"stages"`
	Errors       []ExecutionError `json:"errors"`
}

// recordStage sets (or overwrites) stage i's status in the in-memory
// running record; the slice grows as needed since stages may be skipped
// non-sequentially only in a resumed run's fast-forward prefix.
func (e *Executor) recordStage(i int, name, status string, completed []string) {
	for len(e.stages) <= i {
		e.stages = append(e.stages, StageStatus{})
	}
	e.stages[i] = StageStatus{
		Name:             name,
		Status:           status,
		ActionsCompleted: completed,
		Checkpoints:      e.checkpointSnapshot(completed),
	}
}

// persistExecutionState writes the run's current progress; failure is
// logged and otherwise ignored, per the best-effort checkpoint contract.
func (e *Executor) persistExecutionState(ctx context.Context, currentStage int) {
	state := executionState{
		Mission:      e.program.Name,
		RunID:        e.runID,
		StartedAt:    e.startedAt,
		CurrentStage: currentStage,
		Stages:       e.stages,
		Errors:       e.errs,
	}
	v, err := toValue(state)
	if err != nil {
		e.logger.Warn().Err(err).Msg("encoding execution state failed")
		return
	}
	if err := e.stateStore.Set(ctx, e.program.Name, v); err != nil {
		e.logger.Warn().Err(err).Msg("persisting execution state failed")
	}
}

func (e *Executor) loadExecutionState(ctx context.Context) (*executionState, bool, error) {
	v, ok, err := e.stateStore.Get(ctx, e.program.Name)
	if err != nil || !ok {
		return nil, false, err
	}
	var st executionState
	if err := fromValue(v, &st); err != nil {
		return nil, false, err
	}
	return &st, true, nil
}

// toValue round-trips a Go struct through JSON into the dynamic value
// universe so it can be persisted by an ordinary store.Store.
func toValue(v interface{}) (value.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return value.Null(), err
	}
	var native interface{}
	if err := json.Unmarshal(b, &native); err != nil {
		return value.Null(), err
	}
	return value.FromNative(native), nil
}

func fromValue(v value.Value, out interface{}) error {
	b, err := json.Marshal(v.ToNative())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
