package steps

import (
	"context"
	"sort"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/expr"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/value"
)

// execApply resolves a transform by name, selects the first variant whose
// source schema and guard match the current response, and binds the
// mapped object either to the response register or a named variable.
func execApply(ctx context.Context, sc *Context, as *astmodel.ApplyStep) error {
	transform, ok := sc.Transforms[as.Transform]
	if !ok {
		return &rerrors.ConfigError{Reason: "unknown transform " + as.Transform}
	}

	current := sc.Response()

	for _, variant := range transform.Variants {
		matched, err := Matches(sc.Schemas, variant.SourceSchema, current)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}
		if variant.Guard.Kind != "" {
			guardNode := variant.Guard
			gv, err := sc.Eval.Eval(sc, current, &guardNode)
			if err != nil {
				return err
			}
			if !gv.Truthy() {
				continue
			}
		}

		out, err := evalMappings(sc, current, variant.Mappings)
		if err != nil {
			return err
		}

		if as.As == "" {
			sc.SetResponse(out)
		} else {
			sc.SetVariable(as.As, out)
		}
		return nil
	}

	return &rerrors.NoTransformMatch{Transform: as.Transform}
}

// evalMappings evaluates a transform variant's field mappings in sorted key
// order, for deterministic evaluation when a mapping expression has a side
// effect via env().
func evalMappings(sc *Context, current value.Value, mappings map[string]expr.Node) (value.Value, error) {
	keys := make([]string, 0, len(mappings))
	for k := range mappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]value.Value, len(mappings))
	for _, k := range keys {
		node := mappings[k]
		v, err := sc.Eval.Eval(sc, current, &node)
		if err != nil {
			return value.Null(), err
		}
		out[k] = v
	}
	return value.Object(out), nil
}
