package steps

import (
	"context"

	"github.com/mcclowes/reqon/pkg/astmodel"
)

// execLet evaluates the expression and binds the result in the *current*
// context, not a child — distinct from loop-variable binding.
func execLet(ctx context.Context, sc *Context, ls *astmodel.LetStep) error {
	node := ls.Expr
	v, err := sc.Eval.Eval(sc, sc.Response(), &node)
	if err != nil {
		return err
	}
	sc.SetVariable(ls.Name, v)
	return nil
}
