package steps

import (
	"context"

	"github.com/google/uuid"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/store"
	"github.com/mcclowes/reqon/pkg/value"
)

// execStore resolves the target store, computes a key per record (an
// explicit key expression, else value.id, else a generated uuid), and
// persists the current response. An array response is stored in bulk
// when not upserting, and iterated record-by-record when upserting.
func execStore(ctx context.Context, sc *Context, ss *astmodel.StoreStep) error {
	st, ok := sc.Stores[ss.Store]
	if !ok {
		return &rerrors.ConfigError{Reason: "unknown store " + ss.Store}
	}

	current := sc.Response()
	if current.Kind == value.KindList {
		return storeMany(ctx, sc, st, ss, current.List)
	}
	return storeOne(ctx, sc, st, ss, current)
}

func storeOne(ctx context.Context, sc *Context, st store.Store, ss *astmodel.StoreStep, rec value.Value) error {
	key, err := recordKey(sc, ss, rec)
	if err != nil {
		return err
	}
	rec = applyPartialTag(rec, ss.Partial)
	if ss.Upsert {
		return st.Update(ctx, key, rec)
	}
	return st.Set(ctx, key, rec)
}

func storeMany(ctx context.Context, sc *Context, st store.Store, ss *astmodel.StoreStep, recs []value.Value) error {
	if ss.Upsert {
		for _, rec := range recs {
			if err := storeOne(ctx, sc, st, ss, rec); err != nil {
				return err
			}
		}
		return nil
	}

	batch := make(map[string]value.Value, len(recs))
	for _, rec := range recs {
		key, err := recordKey(sc, ss, rec)
		if err != nil {
			return err
		}
		batch[key] = applyPartialTag(rec, ss.Partial)
	}
	return st.BulkSet(ctx, batch)
}

func recordKey(sc *Context, ss *astmodel.StoreStep, rec value.Value) (string, error) {
	if ss.Key.Kind != "" {
		node := ss.Key
		v, err := sc.Eval.Eval(sc, rec, &node)
		if err != nil {
			return "", err
		}
		return renderScalar(v), nil
	}
	if idv, ok := rec.Field("id"); ok {
		return renderScalar(idv), nil
	}
	return uuid.NewString(), nil
}

func applyPartialTag(rec value.Value, partial bool) value.Value {
	if !partial || rec.Kind != value.KindObject {
		return rec
	}
	out := make(map[string]value.Value, len(rec.Object)+1)
	for k, v := range rec.Object {
		out[k] = v
	}
	out["_partial"] = value.Bool(true)
	return value.Object(out)
}
