package steps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/expr"
	"github.com/mcclowes/reqon/pkg/store"
	"github.com/mcclowes/reqon/pkg/value"
)

func TestExecStoreUsesExplicitKeyExpression(t *testing.T) {
	sc := newTestContext()
	sc.SetResponse(value.Object(map[string]value.Value{"sku": value.String("abc"), "qty": value.Int(2)}))

	ss := &astmodel.StoreStep{Store: "records", Key: *expr.IdentNode("sku")}
	require.NoError(t, execStore(context.Background(), sc, ss))

	rec, ok, err := sc.Stores["records"].Get(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	qty, _ := rec.Field("qty")
	assert.Equal(t, int64(2), qty.Int)
}

func TestExecStoreFallsBackToIDField(t *testing.T) {
	sc := newTestContext()
	sc.SetResponse(value.Object(map[string]value.Value{"id": value.Int(42)}))

	require.NoError(t, execStore(context.Background(), sc, &astmodel.StoreStep{Store: "records"}))

	_, ok, err := sc.Stores["records"].Get(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecStoreArrayNonUpsertUsesBulkSet(t *testing.T) {
	sc := newTestContext()
	sc.SetResponse(value.List([]value.Value{
		value.Object(map[string]value.Value{"id": value.Int(1)}),
		value.Object(map[string]value.Value{"id": value.Int(2)}),
	}))

	require.NoError(t, execStore(context.Background(), sc, &astmodel.StoreStep{Store: "records"}))

	recs, err := sc.Stores["records"].List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestExecStoreArrayUpsertIteratesAndMerges(t *testing.T) {
	sc := newTestContext()
	require.NoError(t, sc.Stores["records"].Set(context.Background(), "1", value.Object(map[string]value.Value{
		"id": value.Int(1), "name": value.String("old"),
	})))

	sc.SetResponse(value.List([]value.Value{
		value.Object(map[string]value.Value{"id": value.Int(1), "status": value.String("done")}),
	}))

	require.NoError(t, execStore(context.Background(), sc, &astmodel.StoreStep{Store: "records", Upsert: true}))

	rec, ok, err := sc.Stores["records"].Get(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	name, _ := rec.Field("name")
	assert.Equal(t, "old", name.Str)
	status, _ := rec.Field("status")
	assert.Equal(t, "done", status.Str)
}

func TestExecStorePartialTagsRecord(t *testing.T) {
	sc := newTestContext()
	sc.SetResponse(value.Object(map[string]value.Value{"id": value.Int(9)}))

	require.NoError(t, execStore(context.Background(), sc, &astmodel.StoreStep{Store: "records", Partial: true}))

	rec, _, _ := sc.Stores["records"].Get(context.Background(), "9")
	tag, ok := rec.Field("_partial")
	require.True(t, ok)
	assert.True(t, tag.Bool)
}

func TestExecStoreUnknownStoreErrors(t *testing.T) {
	sc := newTestContext()
	sc.SetResponse(value.Object(map[string]value.Value{"id": value.Int(1)}))
	err := execStore(context.Background(), sc, &astmodel.StoreStep{Store: "nope"})
	assert.Error(t, err)
}
