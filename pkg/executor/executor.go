// Package executor runs a mission: it resolves sources, stores, auth and
// resilience state during setup, walks the pipeline stage by stage
// (sequential or parallel per stage), and runs each stage's actions
// through their steps, interpreting the flow signals a match arm may
// raise. One Executor instance runs exactly one mission at a time.
package executor

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/auth"
	"github.com/mcclowes/reqon/pkg/events"
	"github.com/mcclowes/reqon/pkg/expr"
	"github.com/mcclowes/reqon/pkg/httpclient"
	"github.com/mcclowes/reqon/pkg/log"
	"github.com/mcclowes/reqon/pkg/metrics"
	"github.com/mcclowes/reqon/pkg/pagination"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/resilience"
	"github.com/mcclowes/reqon/pkg/steps"
	"github.com/mcclowes/reqon/pkg/store"
)

// Config carries the runtime settings setup needs beyond the program
// itself.
type Config struct {
	// DataDir roots file-backed stores and the executions/ and sync/
	// persistence collections. Empty means no persistence: state and
	// checkpoints live only in memory for the run.
	DataDir string

	CredentialsPath string
	DevMode         bool
	PostgRESTBase   string

	// Resume fast-forwards past stages the last execution-state record
	// for this mission already marked completed.
	Resume bool

	Broker    *events.Broker
	Webhooks  steps.WaitRegistrar
	Refresher auth.Refresher

	// MaxJumpDepth bounds jump-chain recursion; default 25.
	MaxJumpDepth int

	HTTPClient *http.Client
}

// Executor holds everything a mission run needs: the resolved program,
// its store/source/resilience state, and the bookkeeping an in-flight run
// accumulates.
type Executor struct {
	program *astmodel.Program
	cfg     Config
	logger  zerolog.Logger

	stores  map[string]store.Store
	sources map[string]*astmodel.Source

	httpClient *httpclient.Client
	paginator  *pagination.Paginator
	limiter    *resilience.RateLimiter
	breaker    *resilience.CircuitBreaker
	authProv   *auth.Provider

	stateStore store.Store
	syncStore  store.Store

	rootCtx *steps.Context

	runID        string
	startedAt    time.Time
	startStage   int
	maxJumpDepth int

	mu       sync.Mutex
	cancelFn context.CancelFunc
	stages   []StageStatus
	errs     []ExecutionError
}

// New resolves sources, stores, auth and resilience state for program and
// returns an Executor ready to Run. Store init failure fails the whole
// setup: no partial startup.
func New(ctx context.Context, program *astmodel.Program, cfg Config) (*Executor, error) {
	if program.Pipeline == nil || len(program.Pipeline.Stages) == 0 {
		return nil, &rerrors.ConfigError{Reason: "mission declares no pipeline stages"}
	}

	for name, src := range program.Sources {
		if src.BaseURL == "" {
			return nil, &rerrors.ConfigError{Reason: fmt.Sprintf("source %q has no resolved base URL", name)}
		}
		metrics.RegisterComponent("source:"+name, true, src.BaseURL)
	}

	creds := map[string]*auth.Credential{}
	if cfg.CredentialsPath != "" {
		var err error
		creds, err = auth.LoadFile(cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
	}
	refresher := cfg.Refresher
	if refresher == nil {
		refresher = auth.NewHTTPRefresher(cfg.HTTPClient)
	}
	authProv := auth.NewProvider(creds, refresher, 0)

	broker := cfg.Broker
	limiter := resilience.NewRateLimiter(broker)
	breaker := resilience.NewCircuitBreaker(broker)

	stores := make(map[string]store.Store, len(program.Stores))
	factoryCfg := store.FactoryConfig{
		DataDir:       cfg.DataDir,
		DevMode:       cfg.DevMode,
		PostgRESTBase: cfg.PostgRESTBase,
		HTTPClient:    cfg.HTTPClient,
	}
	for name, def := range program.Stores {
		st, err := store.New(ctx, def, factoryCfg)
		if err != nil {
			metrics.RegisterComponent("store:"+name, false, err.Error())
			closeAll(stores)
			return nil, &rerrors.ConfigError{Reason: fmt.Sprintf("initializing store %q", name), Cause: err}
		}
		stores[name] = st
		metrics.RegisterComponent("store:"+name, true, string(def.Backend))
	}

	stateStore, syncStore, err := openStateStores(cfg.DataDir)
	if err != nil {
		closeAll(stores)
		return nil, err
	}

	maxJumpDepth := cfg.MaxJumpDepth
	if maxJumpDepth <= 0 {
		maxJumpDepth = 25
	}

	e := &Executor{
		program:      program,
		cfg:          cfg,
		logger:       log.WithComponent("executor"),
		stores:       stores,
		sources:      program.Sources,
		limiter:      limiter,
		breaker:      breaker,
		authProv:     authProv,
		stateStore:   stateStore,
		syncStore:    syncStore,
		maxJumpDepth: maxJumpDepth,
	}

	e.runID = uuid.NewString()
	e.startedAt = time.Now()
	if cfg.Resume {
		if prior, ok, err := e.loadExecutionState(ctx); err == nil && ok && prior.Mission == program.Name {
			e.runID = prior.RunID
			e.startedAt = prior.StartedAt
			e.stages = prior.Stages
			e.errs = prior.Errors
			e.startStage = completedPrefix(prior.Stages)
		}
	}

	e.httpClient = httpclient.New(program.Sources, limiter, breaker, authProv, broker)
	e.paginator = pagination.New(e.httpClient)

	root := steps.NewRootContext()
	root.Stores = stores
	root.Sources = program.Sources
	root.Schemas = program.Schemas
	root.Transforms = program.Transforms
	root.HTTP = e.httpClient
	root.Paginator = e.paginator
	root.Webhooks = cfg.Webhooks
	root.Broker = broker
	root.Eval = expr.NewTreeWalker()
	root.Checkpoint = e.checkpointFor
	root.Mission = program.Name
	root.RunID = e.runID
	e.rootCtx = root

	e.publish(events.MissionStart, "", "")
	return e, nil
}

// completedPrefix returns the count of leading stages whose recorded
// status is "completed" — the fast-forward point a resumed run starts at.
func completedPrefix(stages []StageStatus) int {
	n := 0
	for _, s := range stages {
		if s.Status != StatusCompleted {
			break
		}
		n++
	}
	return n
}

func openStateStores(dataDir string) (stateStore, syncStore store.Store, err error) {
	if dataDir == "" {
		return store.NewMemoryStore(), store.NewMemoryStore(), nil
	}
	stateStore, err = store.NewFileStore(store.FileStoreConfig{
		DataDir:    filepath.Join(dataDir, "executions"),
		Collection: "executions",
	})
	if err != nil {
		return nil, nil, &rerrors.ConfigError{Reason: "initializing execution-state store", Cause: err}
	}
	syncStore, err = store.NewFileStore(store.FileStoreConfig{
		DataDir:    filepath.Join(dataDir, "sync"),
		Collection: "sync",
	})
	if err != nil {
		stateStore.Close()
		return nil, nil, &rerrors.ConfigError{Reason: "initializing sync checkpoint store", Cause: err}
	}
	return stateStore, syncStore, nil
}

func closeAll(stores map[string]store.Store) {
	for _, st := range stores {
		st.Close()
	}
}

// Cancel requests the in-flight Run stop starting new stages and lets any
// in-flight HTTP call or wait observe ctx.Done() at its next suspension
// point. Safe to call before Run starts or after it returns (a no-op
// either way).
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelFn != nil {
		e.cancelFn()
	}
}

// Run walks the pipeline from the fast-forward point (0 on a fresh run),
// executing each stage in turn. A stage failure marks the mission failed
// and skips remaining stages; an abort signal does the same but also
// cancels any still-running sibling actions in that stage. Teardown
// (flushing and closing stores, emitting the terminal event) always runs.
func (e *Executor) Run(ctx context.Context) (*ExecutionResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelFn = cancel
	e.mu.Unlock()
	defer cancel()

	failed := false

	for i := e.startStage; i < len(e.program.Pipeline.Stages); i++ {
		stage := e.program.Pipeline.Stages[i]
		name := stageName(stage)

		select {
		case <-runCtx.Done():
			e.recordStage(i, name, StatusFailed, nil)
			e.errs = append(e.errs, ExecutionError{Kind: "cancelled", Message: runCtx.Err().Error()})
			failed = true
		default:
		}
		if failed {
			break
		}

		if stage.Guard.Kind != "" {
			guard := stage.Guard
			gv, err := e.rootCtx.Eval.Eval(e.rootCtx, e.rootCtx.Response(), &guard)
			if err != nil {
				e.recordStage(i, name, StatusFailed, nil)
				e.errs = append(e.errs, ExecutionError{Kind: "config", Message: err.Error()})
				failed = true
				break
			}
			if !gv.Truthy() {
				e.recordStage(i, name, StatusSkipped, nil)
				continue
			}
		}

		e.publish(events.StageStart, "", name)
		timer := metrics.NewTimer()

		completed, stageErrs, aborted := e.runStage(runCtx, stage)

		timer.ObserveDurationVec(metrics.StageDuration, e.program.Name, name)
		e.publish(events.StageComplete, "", name)

		status := StatusCompleted
		if len(stageErrs) > 0 {
			status = StatusFailed
		}
		e.recordStage(i, name, status, completed)
		e.persistExecutionState(runCtx, i)

		if len(stageErrs) > 0 {
			e.errs = append(e.errs, stageErrs...)
			failed = true
			if aborted {
				e.logger.Warn().Str("stage", name).Msg("stage aborted")
			}
			break
		}
	}

	e.teardown(ctx)

	result := &ExecutionResult{
		Mission:   e.program.Name,
		RunID:     e.runID,
		Success:   !failed,
		StartedAt: e.startedAt,
		EndedAt:   time.Now(),
		Errors:    e.errs,
		Stages:    e.stages,
	}

	if failed {
		e.publish(events.MissionFailed, "", "")
		metrics.MissionsTotal.WithLabelValues(e.program.Name, "failed").Inc()
	} else {
		e.publish(events.MissionComplete, "", "")
		metrics.MissionsTotal.WithLabelValues(e.program.Name, "success").Inc()
	}
	metrics.MissionDuration.WithLabelValues(e.program.Name).Observe(result.EndedAt.Sub(result.StartedAt).Seconds())

	return result, nil
}

func (e *Executor) teardown(ctx context.Context) {
	for name, st := range e.stores {
		if err := st.Flush(ctx); err != nil {
			e.logger.Warn().Err(err).Str("store", name).Msg("flush failed during teardown")
		}
	}
	if err := e.syncStore.Flush(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("sync checkpoint flush failed during teardown")
	}
	if err := e.stateStore.Flush(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("execution state flush failed during teardown")
	}
	closeAll(e.stores)
	e.syncStore.Close()
	e.stateStore.Close()
}

func stageName(stage astmodel.Stage) string {
	if len(stage.Actions) == 1 {
		return stage.Actions[0]
	}
	name := ""
	for i, a := range stage.Actions {
		if i > 0 {
			name += "+"
		}
		name += a
	}
	return name
}

func (e *Executor) publish(t events.Type, action, stage string) {
	if e.cfg.Broker == nil {
		return
	}
	e.cfg.Broker.Publish(&events.Event{
		Type:    t,
		Mission: e.program.Name,
		RunID:   e.runID,
		Action:  action,
		Stage:   stage,
	})
}
