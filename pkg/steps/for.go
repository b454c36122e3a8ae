package steps

import (
	"context"
	"errors"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/expr"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/store"
	"github.com/mcclowes/reqon/pkg/value"
)

// execFor resolves the loop collection (a bare identifier naming a store
// takes precedence over evaluating it as an expression) and executes the
// body once per element in a fresh child context. A skip signal escapes
// only the current iteration; every other signal or error propagates to
// the caller.
func execFor(ctx context.Context, sc *Context, fs *astmodel.ForStep) error {
	items, err := resolveCollection(ctx, sc, fs)
	if err != nil {
		return err
	}

	for _, item := range items {
		child := sc.Child()
		child.SetVariable(fs.Var, item)
		child.SetResponse(item)

		if fs.Where.Kind != "" {
			whereNode := fs.Where
			wv, err := sc.Eval.Eval(child, item, &whereNode)
			if err != nil {
				return err
			}
			if !wv.Truthy() {
				continue
			}
		}

		if err := ExecuteSteps(ctx, child, fs.Body); err != nil {
			var sig *Signal
			if errors.As(err, &sig) && sig.Kind == SignalSkip {
				continue
			}
			return err
		}
	}
	return nil
}

func resolveCollection(ctx context.Context, sc *Context, fs *astmodel.ForStep) ([]value.Value, error) {
	if fs.Collection.Kind == expr.NodeIdent {
		if st, ok := sc.Stores[fs.Collection.Name]; ok {
			return st.List(ctx, store.Filter{})
		}
	}

	collNode := fs.Collection
	coll, err := sc.Eval.Eval(sc, sc.Response(), &collNode)
	if err != nil {
		return nil, err
	}
	if coll.Kind != value.KindList {
		return nil, &rerrors.InvalidCollection{Source: fs.Var}
	}
	return coll.List, nil
}
