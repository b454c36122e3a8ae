package steps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/expr"
	"github.com/mcclowes/reqon/pkg/value"
)

func TestExecApplySelectsFirstMatchingVariant(t *testing.T) {
	sc := newTestContext()
	sc.Schemas["paid"] = &astmodel.Schema{Name: "paid", Fields: []astmodel.SchemaField{
		{Path: "status", Type: astmodel.FieldString, Required: true},
	}}
	sc.Transforms["normalize"] = &astmodel.Transform{Name: "normalize", Variants: []astmodel.TransformVariant{
		{SourceSchema: "paid", Mappings: map[string]expr.Node{
			"total": *expr.IdentNode("amount"),
		}},
	}}
	sc.SetResponse(value.Object(map[string]value.Value{
		"status": value.String("paid"),
		"amount": value.Int(500),
	}))

	require.NoError(t, execApply(context.Background(), sc, &astmodel.ApplyStep{Transform: "normalize"}))

	out := sc.Response()
	total, ok := out.Field("total")
	require.True(t, ok)
	assert.Equal(t, int64(500), total.Int)
}

func TestExecApplyGuardSkipsVariant(t *testing.T) {
	sc := newTestContext()
	sc.Schemas["_"] = &astmodel.Schema{Name: "_"}
	sc.Transforms["t"] = &astmodel.Transform{Name: "t", Variants: []astmodel.TransformVariant{
		{
			SourceSchema: "_",
			Guard:        *expr.IdentNode("eligible"),
			Mappings:     map[string]expr.Node{"ok": *expr.LitBoolNode(true)},
		},
		{
			SourceSchema: "_",
			Mappings:     map[string]expr.Node{"ok": *expr.LitBoolNode(false)},
		},
	}}
	sc.SetResponse(value.Object(map[string]value.Value{"eligible": value.Bool(false)}))

	require.NoError(t, execApply(context.Background(), sc, &astmodel.ApplyStep{Transform: "t"}))

	out := sc.Response()
	ok, _ := out.Field("ok")
	assert.False(t, ok.Bool)
}

func TestExecApplyAsBindsVariableInsteadOfResponse(t *testing.T) {
	sc := newTestContext()
	sc.Schemas["_"] = &astmodel.Schema{Name: "_"}
	sc.Transforms["t"] = &astmodel.Transform{Name: "t", Variants: []astmodel.TransformVariant{
		{SourceSchema: "_", Mappings: map[string]expr.Node{"x": *expr.LitIntNode(7)}},
	}}
	resp := value.Object(map[string]value.Value{"k": value.Int(1)})
	sc.SetResponse(resp)

	require.NoError(t, execApply(context.Background(), sc, &astmodel.ApplyStep{Transform: "t", As: "mapped"}))

	assert.Equal(t, resp, sc.Response())
	v, ok := sc.Variable("mapped")
	require.True(t, ok)
	x, _ := v.Field("x")
	assert.Equal(t, int64(7), x.Int)
}

func TestExecApplyNoVariantMatchReturnsError(t *testing.T) {
	sc := newTestContext()
	sc.Schemas["needs-id"] = &astmodel.Schema{Name: "needs-id", Fields: []astmodel.SchemaField{
		{Path: "id", Type: astmodel.FieldInt, Required: true},
	}}
	sc.Transforms["t"] = &astmodel.Transform{Name: "t", Variants: []astmodel.TransformVariant{
		{SourceSchema: "needs-id", Mappings: map[string]expr.Node{}},
	}}
	sc.SetResponse(value.Object(map[string]value.Value{}))

	err := execApply(context.Background(), sc, &astmodel.ApplyStep{Transform: "t"})
	assert.Error(t, err)
}
