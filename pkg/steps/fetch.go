package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/httpclient"
	"github.com/mcclowes/reqon/pkg/pagination"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/value"
)

func execFetch(ctx context.Context, sc *Context, fs *astmodel.FetchStep, stepID string) error {
	sourceName, src, err := resolveSource(sc, fs.Source)
	if err != nil {
		return err
	}

	path := interpolatePath(fs.Path, sc)

	var body value.Value
	if fs.Body.Kind != "" {
		body, err = sc.Eval.Eval(sc, sc.Response(), &fs.Body)
		if err != nil {
			return err
		}
	}

	query := make([]httpclient.QueryParam, 0, len(fs.Query))
	for _, q := range fs.Query {
		node := q.Value
		v, err := sc.Eval.Eval(sc, sc.Response(), &node)
		if err != nil {
			return err
		}
		query = append(query, httpclient.QueryParam{Name: q.Name, Value: renderScalar(v)})
	}

	headers := make(map[string]string, len(fs.Headers))
	for k, node := range fs.Headers {
		v, err := sc.Eval.Eval(sc, sc.Response(), &node)
		if err != nil {
			return err
		}
		headers[k] = renderScalar(v)
	}

	req := httpclient.Request{
		Source:   sourceName,
		Endpoint: path,
		Method:   strings.ToUpper(fs.Method),
		URL:      src.BaseURL + path,
		Query:    query,
		Body:     body,
		Headers:  headers,
		Retry:    fs.Retry,
	}
	if req.Method == "" {
		req.Method = "GET"
	}

	if fs.Paginate != nil {
		return execPaginatedFetch(ctx, sc, fs, req, stepID)
	}

	resp, err := sc.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	sc.SetResponse(resp.Body)
	return nil
}

func execPaginatedFetch(ctx context.Context, sc *Context, fs *astmodel.FetchStep, req httpclient.Request, stepID string) error {
	var until pagination.UntilFunc
	if fs.Paginate.Until.Kind != "" {
		untilNode := fs.Paginate.Until
		until = func(page value.Value) (bool, error) {
			v, err := sc.Eval.Eval(sc, page, &untilNode)
			if err != nil {
				return false, err
			}
			return v.Truthy(), nil
		}
	}

	var since *pagination.SinceState
	if fs.Since != nil {
		checkpoint := lastCheckpoint(sc, req.Source)
		since = &pagination.SinceState{Param: fs.Since.Param, Format: fs.Since.Format, Checkpoint: checkpoint}
	}

	result, err := sc.Paginator.Collect(ctx, stepID, req, *fs.Paginate, since, until)
	if err != nil {
		// Collect returns the pages gathered before the error (e.g. the
		// MAX_PAGES limit) alongside it; keep them visible to later steps.
		sc.SetResponse(result)
		return err
	}
	sc.SetResponse(result)
	return nil
}

func lastCheckpoint(sc *Context, source string) time.Time {
	if sc.Checkpoint == nil {
		return time.Time{}
	}
	return sc.Checkpoint(source, sc.Action)
}

func resolveSource(sc *Context, name string) (string, *astmodel.Source, error) {
	if name != "" {
		src, ok := sc.Sources[name]
		if !ok {
			return "", nil, &rerrors.ConfigError{Reason: fmt.Sprintf("unknown source %q", name)}
		}
		return name, src, nil
	}
	if len(sc.Sources) != 1 {
		return "", nil, &rerrors.ConfigError{Reason: "fetch step names no source and the mission defines more than one"}
	}
	for n, s := range sc.Sources {
		return n, s, nil
	}
	return "", nil, &rerrors.ConfigError{Reason: "fetch step names no source and the mission defines none"}
}
