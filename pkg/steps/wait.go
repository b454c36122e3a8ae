package steps

import (
	"context"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/value"
)

// execWait registers a webhook expectation and blocks until the expected
// count of matching events arrives, the timeout elapses with at least one
// event (partial success), or the timeout elapses empty (WebhookTimeout,
// optionally converted to a retry signal by the step's own config).
func execWait(ctx context.Context, sc *Context, ws *astmodel.WaitStep) error {
	if sc.Webhooks == nil {
		return &rerrors.ConfigError{Reason: "wait step requires a webhook registrar"}
	}

	stream, cancel := sc.Webhooks.Register(ws.Path, ws.Filter, sc.Eval)
	defer cancel()

	expected := ws.ExpectedCount
	if expected <= 0 {
		expected = 1
	}

	timer := time.NewTimer(time.Duration(ws.TimeoutMS) * time.Millisecond)
	defer timer.Stop()

	var received []value.Value
	for len(received) < expected {
		select {
		case v, ok := <-stream:
			if !ok {
				return completeWait(sc, ws, received, expected)
			}
			received = append(received, v)
			if ws.StreamToStore != "" {
				if err := streamToStore(ctx, sc, ws, v); err != nil {
					return err
				}
			}
		case <-timer.C:
			return completeWait(sc, ws, received, expected)
		case <-ctx.Done():
			return &rerrors.Cancelled{Action: sc.Action}
		}
	}

	sc.SetResponse(value.List(received))
	return nil
}

func completeWait(sc *Context, ws *astmodel.WaitStep, received []value.Value, expected int) error {
	if len(received) > 0 {
		sc.SetResponse(value.List(received))
		return nil
	}
	if ws.RetryOnTimeout != nil {
		return &Signal{Kind: SignalRetry, Retry: ws.RetryOnTimeout}
	}
	return &rerrors.WebhookTimeout{Path: ws.Path, Received: len(received), Expected: expected}
}

func streamToStore(ctx context.Context, sc *Context, ws *astmodel.WaitStep, v value.Value) error {
	st, ok := sc.Stores[ws.StreamToStore]
	if !ok {
		return &rerrors.ConfigError{Reason: "unknown store " + ws.StreamToStore}
	}
	var key string
	if ws.StreamKey.Kind != "" {
		keyNode := ws.StreamKey
		kv, err := sc.Eval.Eval(sc, v, &keyNode)
		if err != nil {
			return err
		}
		key = renderScalar(kv)
	} else if idv, ok := v.Field("id"); ok {
		key = renderScalar(idv)
	}
	return st.Set(ctx, key, v)
}
