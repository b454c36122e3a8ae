package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/expr"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/store"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) (*astmodel.Source, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	return &astmodel.Source{Name: "api", BaseURL: srv.URL}, srv.Close
}

func fetchStep(id, source, path string) astmodel.Step {
	return astmodel.Step{
		ID:   id,
		Kind: astmodel.StepFetch,
		Fetch: &astmodel.FetchStep{
			Source: source,
			Method: "GET",
			Path:   path,
		},
	}
}

func storeStep(id, store string) astmodel.Step {
	return astmodel.Step{
		ID:    id,
		Kind:  astmodel.StepStore,
		Store: &astmodel.StoreStep{Store: store},
	}
}

func baseProgram(name string) *astmodel.Program {
	return &astmodel.Program{
		Name:       name,
		Sources:    map[string]*astmodel.Source{},
		Stores:     map[string]*astmodel.StoreDef{},
		Schemas:    map[string]*astmodel.Schema{},
		Transforms: map[string]*astmodel.Transform{},
		Actions:    map[string]*astmodel.Action{},
	}
}

func TestRunFetchAndStoreSucceeds(t *testing.T) {
	src, closeSrv := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"1","name":"alice"},{"id":"2","name":"bob"}]`))
	})
	defer closeSrv()

	program := baseProgram("sync-users")
	program.Sources["api"] = src
	program.Stores["records"] = &astmodel.StoreDef{Name: "records", Backend: astmodel.BackendMemory}
	program.Actions["sync"] = &astmodel.Action{
		Name: "sync",
		Steps: []astmodel.Step{
			fetchStep("fetch-users", "api", "/users"),
			storeStep("store-users", "records"),
		},
	}
	program.Pipeline = &astmodel.Pipeline{Stages: []astmodel.Stage{{Actions: []string{"sync"}}}}

	ctx := context.Background()
	e, err := New(ctx, program, Config{})
	require.NoError(t, err)

	result, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Errors)

	records, err := e.stores["records"].List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRunSkipsStageWhenGuardFalse(t *testing.T) {
	program := baseProgram("guarded")
	program.Stores["out"] = &astmodel.StoreDef{Name: "out", Backend: astmodel.BackendMemory}
	program.Actions["write"] = &astmodel.Action{
		Name: "write",
		Steps: []astmodel.Step{
			{
				ID:   "let-rec",
				Kind: astmodel.StepLet,
				Let:  &astmodel.LetStep{Name: "unused", Expr: *expr.LitBoolNode(true)},
			},
			{
				ID:   "store-rec",
				Kind: astmodel.StepStore,
				Store: &astmodel.StoreStep{
					Store: "out",
					Key:   *expr.LitStringNode("k1"),
				},
			},
		},
	}
	program.Pipeline = &astmodel.Pipeline{
		Stages: []astmodel.Stage{
			{Actions: []string{"write"}, Guard: *expr.LitBoolNode(false)},
		},
	}

	ctx := context.Background()
	e, err := New(ctx, program, Config{})
	require.NoError(t, err)

	result, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Stages, 1)
	assert.Equal(t, StatusSkipped, result.Stages[0].Status)

	_, ok, _ := e.stores["out"].Get(ctx, "k1")
	assert.False(t, ok)
}

func TestRunParallelStageRunsBothActions(t *testing.T) {
	program := baseProgram("fanout")
	program.Stores["out"] = &astmodel.StoreDef{Name: "out", Backend: astmodel.BackendMemory}
	program.Actions["a"] = &astmodel.Action{
		Name: "a",
		Steps: []astmodel.Step{
			{ID: "s", Kind: astmodel.StepStore, Store: &astmodel.StoreStep{Store: "out", Key: *expr.LitStringNode("a")}},
		},
	}
	program.Actions["b"] = &astmodel.Action{
		Name: "b",
		Steps: []astmodel.Step{
			{ID: "s", Kind: astmodel.StepStore, Store: &astmodel.StoreStep{Store: "out", Key: *expr.LitStringNode("b")}},
		},
	}
	program.Pipeline = &astmodel.Pipeline{Stages: []astmodel.Stage{{Actions: []string{"a", "b"}}}}

	ctx := context.Background()
	e, err := New(ctx, program, Config{})
	require.NoError(t, err)

	result, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, ok, _ := e.stores["out"].Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = e.stores["out"].Get(ctx, "b")
	assert.True(t, ok)
}

func TestRunMatchQueueDirectiveQueuesValue(t *testing.T) {
	program := baseProgram("queueing")
	program.Stores["_queue"] = &astmodel.StoreDef{Name: "_queue", Backend: astmodel.BackendMemory}
	program.Schemas["_"] = &astmodel.Schema{Name: "_"}
	program.Actions["classify"] = &astmodel.Action{
		Name: "classify",
		Steps: []astmodel.Step{
			{
				ID:   "let-rec",
				Kind: astmodel.StepLet,
				Let:  &astmodel.LetStep{Name: "ignored", Expr: *expr.LitBoolNode(true)},
			},
			{
				ID:   "match-rec",
				Kind: astmodel.StepMatch,
				Match: &astmodel.MatchStep{
					Target: *expr.LitStringNode("payload"),
					Arms: []astmodel.MatchArm{
						{
							Schema:    "_",
							Directive: &astmodel.FlowDirective{Kind: astmodel.FlowQueue},
						},
					},
				},
			},
		},
	}
	program.Pipeline = &astmodel.Pipeline{Stages: []astmodel.Stage{{Actions: []string{"classify"}}}}

	ctx := context.Background()
	e, err := New(ctx, program, Config{})
	require.NoError(t, err)

	result, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)

	recs, err := e.stores["_queue"].List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "payload", recs[0].Str)
}

func TestRunAbortDirectiveFailsMission(t *testing.T) {
	program := baseProgram("aborting")
	program.Schemas["_"] = &astmodel.Schema{Name: "_"}
	program.Actions["risky"] = &astmodel.Action{
		Name: "risky",
		Steps: []astmodel.Step{
			{
				ID:   "match-rec",
				Kind: astmodel.StepMatch,
				Match: &astmodel.MatchStep{
					Target: *expr.LitBoolNode(true),
					Arms: []astmodel.MatchArm{
						{
							Schema:    "_",
							Directive: &astmodel.FlowDirective{Kind: astmodel.FlowAbort, Message: "bad data"},
						},
					},
				},
			},
		},
	}
	program.Pipeline = &astmodel.Pipeline{Stages: []astmodel.Stage{{Actions: []string{"risky"}}}}

	ctx := context.Background()
	e, err := New(ctx, program, Config{})
	require.NoError(t, err)

	result, err := e.Run(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "aborted", result.Errors[0].Kind)
}

func TestRunRetrySignalExhaustsAfterMaxAttempts(t *testing.T) {
	program := baseProgram("retrying")
	program.Schemas["_"] = &astmodel.Schema{Name: "_"}
	program.Actions["flaky"] = &astmodel.Action{
		Name: "flaky",
		Steps: []astmodel.Step{
			{
				ID:   "match-rec",
				Kind: astmodel.StepMatch,
				Match: &astmodel.MatchStep{
					Target: *expr.LitBoolNode(true),
					Arms: []astmodel.MatchArm{
						{
							Schema: "_",
							Directive: &astmodel.FlowDirective{
								Kind:  astmodel.FlowRetry,
								Retry: &astmodel.RetryPolicy{MaxAttempts: 2, InitialDelay: 1, MaxDelay: 1},
							},
						},
					},
				},
			},
		},
	}
	program.Pipeline = &astmodel.Pipeline{Stages: []astmodel.Stage{{Actions: []string{"flaky"}}}}

	ctx := context.Background()
	e, err := New(ctx, program, Config{})
	require.NoError(t, err)

	result, err := e.Run(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "retry_exhausted", result.Errors[0].Kind)
}

func TestRunJumpThenContinueResumesOriginatingAction(t *testing.T) {
	program := baseProgram("jumping")
	program.Stores["out"] = &astmodel.StoreDef{Name: "out", Backend: astmodel.BackendMemory}
	program.Schemas["_"] = &astmodel.Schema{Name: "_"}
	program.Actions["helper"] = &astmodel.Action{
		Name: "helper",
		Steps: []astmodel.Step{
			storeStepWithKey("store-helper", "out", "helper"),
		},
	}
	program.Actions["main"] = &astmodel.Action{
		Name: "main",
		Steps: []astmodel.Step{
			{
				ID:   "match-rec",
				Kind: astmodel.StepMatch,
				Match: &astmodel.MatchStep{
					Target: *expr.LitBoolNode(true),
					Arms: []astmodel.MatchArm{
						{
							Schema: "_",
							Directive: &astmodel.FlowDirective{
								Kind:   astmodel.FlowJump,
								Target: "helper",
								Then:   astmodel.JumpThenContinue,
							},
						},
					},
				},
			},
			storeStepWithKey("store-main", "out", "main"),
		},
	}
	program.Pipeline = &astmodel.Pipeline{Stages: []astmodel.Stage{{Actions: []string{"main"}}}}

	ctx := context.Background()
	e, err := New(ctx, program, Config{})
	require.NoError(t, err)

	result, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, ok, _ := e.stores["out"].Get(ctx, "helper")
	assert.True(t, ok)
	_, ok, _ = e.stores["out"].Get(ctx, "main")
	assert.True(t, ok)
}

func storeStepWithKey(id, store, key string) astmodel.Step {
	return astmodel.Step{
		ID:    id,
		Kind:  astmodel.StepStore,
		Store: &astmodel.StoreStep{Store: store, Key: *expr.LitStringNode(key)},
	}
}

func TestRunCancelStopsBeforeNextStage(t *testing.T) {
	program := baseProgram("cancellable")
	program.Stores["out"] = &astmodel.StoreDef{Name: "out", Backend: astmodel.BackendMemory}
	program.Actions["first"] = &astmodel.Action{
		Name:  "first",
		Steps: []astmodel.Step{storeStepWithKey("s1", "out", "first")},
	}
	program.Actions["second"] = &astmodel.Action{
		Name:  "second",
		Steps: []astmodel.Step{storeStepWithKey("s2", "out", "second")},
	}
	program.Pipeline = &astmodel.Pipeline{
		Stages: []astmodel.Stage{
			{Actions: []string{"first"}},
			{Actions: []string{"second"}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	e, err := New(ctx, program, Config{})
	require.NoError(t, err)

	cancel()
	result, err := e.Run(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestResumeFastForwardsPastCompletedStages(t *testing.T) {
	dataDir := t.TempDir()
	calls := 0
	src, closeSrv := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})
	defer closeSrv()

	buildProgram := func(failSecond bool) *astmodel.Program {
		program := baseProgram("resumable")
		program.Sources["api"] = src
		program.Stores["out"] = &astmodel.StoreDef{Name: "out", Backend: astmodel.BackendMemory}
		program.Actions["first"] = &astmodel.Action{
			Name: "first",
			Steps: []astmodel.Step{
				fetchStep("fetch-first", "api", "/first"),
				storeStepWithKey("store-first", "out", "first"),
			},
		}
		secondSteps := []astmodel.Step{storeStepWithKey("store-second", "out", "second")}
		if failSecond {
			secondSteps = []astmodel.Step{
				{ID: "bad-store", Kind: astmodel.StepStore, Store: &astmodel.StoreStep{Store: "does-not-exist"}},
			}
		}
		program.Actions["second"] = &astmodel.Action{Name: "second", Steps: secondSteps}
		program.Pipeline = &astmodel.Pipeline{
			Stages: []astmodel.Stage{
				{Actions: []string{"first"}},
				{Actions: []string{"second"}},
			},
		}
		return program
	}

	ctx := context.Background()

	e1, err := New(ctx, buildProgram(true), Config{DataDir: dataDir})
	require.NoError(t, err)
	result1, err := e1.Run(ctx)
	require.NoError(t, err)
	assert.False(t, result1.Success)
	assert.Equal(t, 1, calls)

	e2, err := New(ctx, buildProgram(false), Config{DataDir: dataDir, Resume: true})
	require.NoError(t, err)
	require.Equal(t, 1, e2.startStage)

	result2, err := e2.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result2.Success)
	assert.Equal(t, 1, calls, "resumed run must not re-fetch a stage already marked completed")
}

func TestNewFailsFastWhenAStoreCannotBeInitialized(t *testing.T) {
	program := baseProgram("broken-store")
	program.Stores["good"] = &astmodel.StoreDef{Name: "good", Backend: astmodel.BackendMemory}
	program.Stores["bad"] = &astmodel.StoreDef{Name: "bad", Backend: astmodel.BackendSQL}
	program.Pipeline = &astmodel.Pipeline{Stages: []astmodel.Stage{{Actions: []string{"noop"}}}}
	program.Actions["noop"] = &astmodel.Action{Name: "noop"}

	ctx := context.Background()
	_, err := New(ctx, program, Config{DevMode: false})
	require.Error(t, err)
	var cfgErr *rerrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewRejectsSourceWithoutResolvedBaseURL(t *testing.T) {
	program := baseProgram("unresolved-source")
	program.Sources["api"] = &astmodel.Source{Name: "api"}
	program.Pipeline = &astmodel.Pipeline{Stages: []astmodel.Stage{{Actions: []string{"noop"}}}}
	program.Actions["noop"] = &astmodel.Action{Name: "noop"}

	_, err := New(context.Background(), program, Config{})
	require.Error(t, err)
}

func TestCheckpointCommitsAfterIncrementalFetch(t *testing.T) {
	src, closeSrv := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	})
	defer closeSrv()

	program := baseProgram("incremental")
	program.Sources["api"] = src
	program.Actions["sync"] = &astmodel.Action{
		Name: "sync",
		Steps: []astmodel.Step{
			{
				ID:   "fetch-since",
				Kind: astmodel.StepFetch,
				Fetch: &astmodel.FetchStep{
					Source: "api",
					Method: "GET",
					Path:   "/items",
					Since:  &astmodel.SinceConfig{Param: "since", Format: astmodel.SinceISO},
				},
			},
		},
	}
	program.Pipeline = &astmodel.Pipeline{Stages: []astmodel.Stage{{Actions: []string{"sync"}}}}

	ctx := context.Background()
	e, err := New(ctx, program, Config{})
	require.NoError(t, err)

	before := e.checkpointFor("api", "sync")
	assert.True(t, before.IsZero())

	result, err := e.Run(ctx)
	require.NoError(t, err)
	require.True(t, result.Success)

	after := e.checkpointFor("api", "sync")
	assert.False(t, after.IsZero())
	assert.WithinDuration(t, time.Now(), after, 5*time.Second)
}
