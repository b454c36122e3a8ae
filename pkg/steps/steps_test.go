package steps

import (
	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/expr"
	"github.com/mcclowes/reqon/pkg/store"
)

// newTestContext builds a root Context wired with a tree-walking evaluator
// and an empty memory store named "records", enough for most handler tests.
func newTestContext() *Context {
	sc := NewRootContext()
	sc.Eval = expr.NewTreeWalker()
	sc.Stores = map[string]store.Store{"records": store.NewMemoryStore()}
	sc.Sources = map[string]*astmodel.Source{}
	sc.Schemas = map[string]*astmodel.Schema{}
	sc.Transforms = map[string]*astmodel.Transform{}
	sc.Action = "test-action"
	sc.Mission = "test-mission"
	sc.RunID = "run-1"
	return sc
}
