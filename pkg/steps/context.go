// Package steps implements the nine step handlers (fetch, for, map, apply,
// validate, store, match, let, wait) that an action sequences, plus the
// Context they operate on and the flow-signal control-flow surface they may
// raise.
package steps

import (
	"os"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/events"
	"github.com/mcclowes/reqon/pkg/expr"
	"github.com/mcclowes/reqon/pkg/httpclient"
	"github.com/mcclowes/reqon/pkg/pagination"
	"github.com/mcclowes/reqon/pkg/store"
	"github.com/mcclowes/reqon/pkg/value"
)

// WaitRegistrar is the external webhook-server collaborator a wait step
// depends on. The HTTP server that receives webhook deliveries, and the
// matching of inbound requests to a registration, are out of scope; this
// interface is the boundary contract the executor is built against.
type WaitRegistrar interface {
	// Register opens a window expecting events at path matching filter.
	// It returns a channel of matching event values and a cancel func the
	// caller must invoke once done (whether satisfied or timed out).
	Register(path string, filter expr.Node, eval expr.Evaluator) (stream <-chan value.Value, cancel func())
}

// Context is the per-execution object step handlers read and mutate.
// Stores/Sources/Schemas/Transforms are shared read-only after setup;
// variables and response are lexically scoped via Child.
type Context struct {
	Stores     map[string]store.Store
	Sources    map[string]*astmodel.Source
	Schemas    map[string]*astmodel.Schema
	Transforms map[string]*astmodel.Transform

	HTTP      *httpclient.Client
	Paginator *pagination.Paginator
	Webhooks  WaitRegistrar
	Broker    *events.Broker
	Eval      expr.Evaluator

	// Checkpoint returns the last committed sync checkpoint for
	// (source, action), or the zero time if none exists yet.
	Checkpoint func(source, action string) time.Time

	Mission string
	RunID   string
	Action  string
	Stage   string

	parent    *Context
	variables map[string]value.Value
	response  value.Value
}

// NewRootContext builds the top-level context an action's steps begin in.
func NewRootContext() *Context {
	return &Context{
		variables: make(map[string]value.Value),
		response:  value.Null(),
	}
}

// Child creates a lexically-scoped child: its own variable map and its own
// response register (seeded from the parent's current response), sharing
// every other field. Writes in the child never back-propagate to the
// parent — the contract `for`, parallel stages, and match arms all depend
// on.
func (c *Context) Child() *Context {
	return &Context{
		Stores:     c.Stores,
		Sources:    c.Sources,
		Schemas:    c.Schemas,
		Transforms: c.Transforms,
		HTTP:       c.HTTP,
		Paginator:  c.Paginator,
		Webhooks:   c.Webhooks,
		Broker:     c.Broker,
		Eval:       c.Eval,
		Checkpoint: c.Checkpoint,
		Mission:    c.Mission,
		RunID:      c.RunID,
		Action:     c.Action,
		Stage:      c.Stage,
		parent:     c,
		variables:  make(map[string]value.Value),
		response:   c.response,
	}
}

// Variable implements expr.EvalContext: lookup chains to the parent when
// unbound locally.
func (c *Context) Variable(name string) (value.Value, bool) {
	if v, ok := c.variables[name]; ok {
		return v, true
	}
	if c.parent != nil {
		return c.parent.Variable(name)
	}
	return value.Null(), false
}

// SetVariable binds name in the current (not child) scope — the contract
// `let` and loop-variable binding both depend on.
func (c *Context) SetVariable(name string, v value.Value) {
	c.variables[name] = v
}

// Response implements expr.EvalContext.
func (c *Context) Response() value.Value { return c.response }

// SetResponse overwrites the last-result register.
func (c *Context) SetResponse(v value.Value) { c.response = v }

// Env implements expr.EvalContext's impure env() builtin.
func (c *Context) Env(name string) (string, bool) { return os.LookupEnv(name) }
