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

func TestExecValidatePassesWhenAllConstraintsHold(t *testing.T) {
	sc := newTestContext()
	sc.SetResponse(value.Object(map[string]value.Value{"id": value.Int(1)}))

	vs := &astmodel.ValidateStep{Constraints: []astmodel.Constraint{
		{Name: "has-id", Expr: *expr.IdentNode("id"), Severity: astmodel.SeverityError},
	}}
	assert.NoError(t, execValidate(context.Background(), sc, vs))
}

func TestExecValidateErrorSeverityFailsStep(t *testing.T) {
	sc := newTestContext()
	sc.SetResponse(value.Object(map[string]value.Value{}))

	vs := &astmodel.ValidateStep{Constraints: []astmodel.Constraint{
		{Name: "has-id", Expr: *expr.IdentNode("id"), Severity: astmodel.SeverityError},
	}}
	err := execValidate(context.Background(), sc, vs)
	require.Error(t, err)
}

func TestExecValidateWarningSeverityContinues(t *testing.T) {
	sc := newTestContext()
	sc.Broker = nil
	sc.SetResponse(value.Object(map[string]value.Value{}))

	vs := &astmodel.ValidateStep{Constraints: []astmodel.Constraint{
		{Name: "has-id", Expr: *expr.IdentNode("id"), Severity: astmodel.SeverityWarning},
	}}
	assert.NoError(t, execValidate(context.Background(), sc, vs))
}
