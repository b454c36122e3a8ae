package steps

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/expr"
	"github.com/mcclowes/reqon/pkg/httpclient"
	"github.com/mcclowes/reqon/pkg/pagination"
	"github.com/mcclowes/reqon/pkg/resilience"
	"github.com/mcclowes/reqon/pkg/value"
)

func newFetchTestContext(baseURL string) *Context {
	sc := newTestContext()
	src := &astmodel.Source{Name: "api", BaseURL: baseURL}
	sc.Sources = map[string]*astmodel.Source{"api": src}
	client := httpclient.New(sc.Sources, resilience.NewRateLimiter(nil), resilience.NewCircuitBreaker(nil), nil, nil)
	client.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	sc.HTTP = client
	sc.Paginator = pagination.New(client)
	return sc
}

func TestExecFetchSetsResponseFromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1,"name":"widget"}`))
	}))
	defer srv.Close()

	sc := newFetchTestContext(srv.URL)
	fs := &astmodel.FetchStep{Source: "api", Method: "GET", Path: "/widgets/1"}
	require.NoError(t, execFetch(context.Background(), sc, fs, "fetch1"))

	name, ok := sc.Response().Field("name")
	require.True(t, ok)
	assert.Equal(t, "widget", name.Str)
}

func TestExecFetchInterpolatesPathFromVariable(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sc := newFetchTestContext(srv.URL)
	sc.SetVariable("id", value.Int(7))
	fs := &astmodel.FetchStep{Source: "api", Method: "GET", Path: "/widgets/{id}"}
	require.NoError(t, execFetch(context.Background(), sc, fs, "fetch2"))
	assert.Equal(t, "/widgets/7", gotPath)
}

func TestExecFetchEvaluatesBodyAndQuery(t *testing.T) {
	var gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("tag")
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sc := newFetchTestContext(srv.URL)
	sc.SetVariable("label", value.String("urgent"))
	fs := &astmodel.FetchStep{
		Source: "api",
		Method: "POST",
		Path:   "/widgets",
		Body:   *expr.IdentNode("label"),
		Query:  []astmodel.QueryParam{{Name: "tag", Value: *expr.IdentNode("label")}},
	}
	require.NoError(t, execFetch(context.Background(), sc, fs, "fetch3"))
	assert.Equal(t, "urgent", gotQuery)
	assert.Contains(t, gotBody, "urgent")
}

func TestExecFetchDefaultsMethodToGet(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sc := newFetchTestContext(srv.URL)
	fs := &astmodel.FetchStep{Source: "api", Path: "/widgets"}
	require.NoError(t, execFetch(context.Background(), sc, fs, "fetch4"))
	assert.Equal(t, http.MethodGet, gotMethod)
}

func TestExecFetchUnknownSourceErrors(t *testing.T) {
	sc := newFetchTestContext("http://unused.invalid")
	fs := &astmodel.FetchStep{Source: "nope", Path: "/x"}
	err := execFetch(context.Background(), sc, fs, "fetch5")
	assert.Error(t, err)
}

func TestExecPaginatedFetchCollectsAllPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		w.Header().Set("Content-Type", "application/json")
		switch offset {
		case "", "0":
			w.Write([]byte(`{"items":[{"id":1},{"id":2}]}`))
		default:
			w.Write([]byte(`{"items":[]}`))
		}
	}))
	defer srv.Close()

	sc := newFetchTestContext(srv.URL)
	fs := &astmodel.FetchStep{
		Source: "api",
		Path:   "/items",
		Paginate: &astmodel.PaginationConfig{
			Kind: astmodel.PaginateOffset, Param: "offset", PageSize: 2,
		},
	}
	require.NoError(t, execFetch(context.Background(), sc, fs, "fetch6"))
	assert.Len(t, sc.Response().List, 2)
}
