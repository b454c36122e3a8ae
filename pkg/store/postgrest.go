package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/value"
)

// PostgRESTStore is the SQL-via-REST backend: each record is a row in a
// PostgREST-fronted table, addressed by its primary key column. Writes are
// serialized per key via an in-process mutex; the remote service supplies
// durability.
type PostgRESTStore struct {
	baseURL    string
	collection string
	keyColumn  string
	client     *http.Client

	keyMu sync.Map // key -> *sync.Mutex
}

// PostgRESTConfig configures a PostgRESTStore.
type PostgRESTConfig struct {
	BaseURL    string // e.g. https://db.example.test
	Collection string // PostgREST resource / table name
	KeyColumn  string // default "id"
	HTTPClient *http.Client
}

// NewPostgRESTStore verifies the resource is reachable before returning,
// per the two-step factory contract: a handle that fails the handshake is
// never returned.
func NewPostgRESTStore(ctx context.Context, cfg PostgRESTConfig) (*PostgRESTStore, error) {
	keyColumn := cfg.KeyColumn
	if keyColumn == "" {
		keyColumn = "id"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	s := &PostgRESTStore{
		baseURL:    cfg.BaseURL,
		collection: cfg.Collection,
		keyColumn:  keyColumn,
		client:     client,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.resourceURL(nil), nil)
	if err != nil {
		return nil, &rerrors.StoreError{Kind: rerrors.StoreErrorBackendUnavailable, Store: cfg.Collection, Cause: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &rerrors.StoreError{Kind: rerrors.StoreErrorBackendUnavailable, Store: cfg.Collection, Cause: err}
	}
	resp.Body.Close()

	return s, nil
}

func (s *PostgRESTStore) resourceURL(query url.Values) string {
	u := fmt.Sprintf("%s/%s", s.baseURL, s.collection)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (s *PostgRESTStore) keyLock(key string) *sync.Mutex {
	m, _ := s.keyMu.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func (s *PostgRESTStore) do(ctx context.Context, method, rawURL string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation,resolution=merge-duplicates")
	return s.client.Do(req)
}

func (s *PostgRESTStore) Get(ctx context.Context, key string) (value.Value, bool, error) {
	q := url.Values{s.keyColumn: {"eq." + key}}
	resp, err := s.do(ctx, http.MethodGet, s.resourceURL(q), nil)
	if err != nil {
		return value.Null(), false, &rerrors.StoreError{Kind: rerrors.StoreErrorIO, Store: s.collection, Key: key, Cause: err}
	}
	defer resp.Body.Close()

	var rows []interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return value.Null(), false, &rerrors.StoreError{Kind: rerrors.StoreErrorIO, Store: s.collection, Key: key, Cause: err}
	}
	if len(rows) == 0 {
		return value.Null(), false, nil
	}
	return value.FromNative(rows[0]), true, nil
}

func (s *PostgRESTStore) Set(ctx context.Context, key string, rec value.Value) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	q := url.Values{s.keyColumn: {"eq." + key}}
	resp, err := s.do(ctx, http.MethodPut, s.resourceURL(q), rec.ToNative())
	if err != nil {
		return &rerrors.StoreError{Kind: rerrors.StoreErrorIO, Store: s.collection, Key: key, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &rerrors.StoreError{Kind: rerrors.StoreErrorConflict, Store: s.collection, Key: key, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

func (s *PostgRESTStore) Update(ctx context.Context, key string, partial value.Value) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	q := url.Values{s.keyColumn: {"eq." + key}}
	resp, err := s.do(ctx, http.MethodPatch, s.resourceURL(q), partial.ToNative())
	if err != nil {
		return &rerrors.StoreError{Kind: rerrors.StoreErrorIO, Store: s.collection, Key: key, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return s.Set(ctx, key, partial)
	}
	if resp.StatusCode >= 400 {
		return &rerrors.StoreError{Kind: rerrors.StoreErrorConflict, Store: s.collection, Key: key, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

func (s *PostgRESTStore) Delete(ctx context.Context, key string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	q := url.Values{s.keyColumn: {"eq." + key}}
	resp, err := s.do(ctx, http.MethodDelete, s.resourceURL(q), nil)
	if err != nil {
		return &rerrors.StoreError{Kind: rerrors.StoreErrorIO, Store: s.collection, Key: key, Cause: err}
	}
	resp.Body.Close()
	return nil
}

func (s *PostgRESTStore) List(ctx context.Context, filter Filter) ([]value.Value, error) {
	q := url.Values{}
	for path, want := range filter.Where {
		q.Set(path, "eq."+fmt.Sprintf("%v", want.ToNative()))
	}
	if filter.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", filter.Offset))
	}

	resp, err := s.do(ctx, http.MethodGet, s.resourceURL(q), nil)
	if err != nil {
		return nil, &rerrors.StoreError{Kind: rerrors.StoreErrorIO, Store: s.collection, Cause: err}
	}
	defer resp.Body.Close()

	var rows []interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, &rerrors.StoreError{Kind: rerrors.StoreErrorIO, Store: s.collection, Cause: err}
	}
	out := make([]value.Value, len(rows))
	for i, r := range rows {
		out[i] = value.FromNative(r)
	}
	return out, nil
}

func (s *PostgRESTStore) Count(ctx context.Context, filter Filter) (int, error) {
	rows, err := s.List(ctx, Filter{Where: filter.Where})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *PostgRESTStore) BulkSet(ctx context.Context, recs map[string]value.Value) error {
	for k, v := range recs {
		if err := s.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgRESTStore) BulkUpsert(ctx context.Context, recs map[string]value.Value) error {
	for k, v := range recs {
		if err := s.Update(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgRESTStore) Flush(ctx context.Context) error { return nil }
func (s *PostgRESTStore) Close() error                    { return nil }
