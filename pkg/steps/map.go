package steps

import (
	"context"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/value"
)

// execMap evaluates each field:expression pair against the current
// response and assigns the resulting object as the new response.
func execMap(ctx context.Context, sc *Context, ms *astmodel.MapStep) error {
	current := sc.Response()
	out := make(map[string]value.Value, len(ms.FieldOrder))
	for _, field := range ms.FieldOrder {
		node := ms.Fields[field]
		v, err := sc.Eval.Eval(sc, current, &node)
		if err != nil {
			return err
		}
		out[field] = v
	}
	sc.SetResponse(value.Object(out))
	return nil
}
