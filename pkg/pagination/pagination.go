// Package pagination wraps the HTTP client to collect a concatenated
// result set across pages using the offset, page, or cursor strategy.
package pagination

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/httpclient"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/value"
)

// UntilFunc evaluates the caller's termination predicate against the
// just-fetched page. A nil UntilFunc means "use the strategy default."
type UntilFunc func(page value.Value) (bool, error)

// SinceState carries the incremental-sync checkpoint for one fetch.
type SinceState struct {
	Param      string // default "since"
	Format     astmodel.SinceFormat
	Checkpoint time.Time // zero means "use the epoch"
}

// fieldCacheEntry remembers the auto-detected array field for a step.
type fieldCacheEntry struct {
	field  string
	seenAt time.Time
}

// Paginator runs the per-page fetch loop. A single instance may be shared
// across fetch steps; array-field detection is cached per step ID.
type Paginator struct {
	client *httpclient.Client

	mu          sync.Mutex
	fieldCache  map[string]fieldCacheEntry
	cacheExpiry time.Duration

	Now func() time.Time
}

// New builds a Paginator over an already-configured HTTP client.
func New(client *httpclient.Client) *Paginator {
	return &Paginator{
		client:      client,
		fieldCache:  make(map[string]fieldCacheEntry),
		cacheExpiry: 5 * time.Minute,
		Now:         time.Now,
	}
}

// Collect issues requests until the strategy's termination condition (or
// until) is met, returning the concatenated array across all pages.
func (p *Paginator) Collect(ctx context.Context, stepID string, base httpclient.Request, cfg astmodel.PaginationConfig, since *SinceState, until UntilFunc) (value.Value, error) {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}

	var combined []value.Value
	var cursor string
	offset := 0
	page := 1

	for pagesSeen := 0; ; pagesSeen++ {
		if pagesSeen >= maxPages {
			return value.List(combined), &rerrors.PaginationLimit{Step: stepID, PagesSeen: pagesSeen, MaxPages: maxPages}
		}

		req := base
		req.Query = append([]httpclient.QueryParam{}, base.Query...)

		switch cfg.Kind {
		case astmodel.PaginatePage:
			req.Query = append(req.Query, httpclient.QueryParam{Name: cfg.Param, Value: strconv.Itoa(page)})
		case astmodel.PaginateCursor:
			if cursor != "" {
				req.Query = append(req.Query, httpclient.QueryParam{Name: cfg.Param, Value: cursor})
			}
		default: // offset
			req.Query = append(req.Query, httpclient.QueryParam{Name: cfg.Param, Value: strconv.Itoa(offset)})
		}

		if since != nil && pagesSeen == 0 {
			req.Query = append(req.Query, httpclient.QueryParam{Name: sinceParamName(since), Value: formatSince(since)})
		}

		resp, err := p.client.Do(ctx, req)
		if err != nil {
			return value.List(combined), err
		}

		items, field := p.extractArray(stepID, resp.Body, cfg.ArrayField)
		combined = append(combined, items...)

		done, err := p.terminate(cfg, resp.Body, items, field, until)
		if err != nil {
			return value.List(combined), err
		}
		if done {
			break
		}

		switch cfg.Kind {
		case astmodel.PaginatePage:
			page++
		case astmodel.PaginateCursor:
			cursor, _ = nextCursor(resp.Body, cfg.NextPath)
		default:
			offset += pageSizeOrDefault(cfg.PageSize)
		}
	}

	return value.List(combined), nil
}

func pageSizeOrDefault(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (p *Paginator) terminate(cfg astmodel.PaginationConfig, root value.Value, items []value.Value, field string, until UntilFunc) (bool, error) {
	if until != nil {
		return until(root)
	}
	switch cfg.Kind {
	case astmodel.PaginateCursor:
		next, ok := nextCursor(root, cfg.NextPath)
		return !ok || next == "", nil
	default:
		return len(items) == 0, nil
	}
}

func nextCursor(root value.Value, path string) (string, bool) {
	v, ok := root.Field(path)
	if !ok || v.IsNull() {
		return "", false
	}
	if v.Kind == value.KindString && v.Str == "" {
		return "", false
	}
	if v.Kind == value.KindString {
		return v.Str, true
	}
	return "", false
}

// extractArray locates the page's result array: an explicit arrayField
// wins; else the cached field for this step (if still valid and present);
// else auto-detection (first array-valued field of the root object, or
// the root itself if it is already a list).
func (p *Paginator) extractArray(stepID string, root value.Value, arrayField string) ([]value.Value, string) {
	if arrayField != "" {
		if v, ok := root.Field(arrayField); ok && v.Kind == value.KindList {
			return v.List, arrayField
		}
		return nil, arrayField
	}

	if root.Kind == value.KindList {
		return root.List, ""
	}
	if root.Kind != value.KindObject {
		return nil, ""
	}

	p.mu.Lock()
	cached, ok := p.fieldCache[stepID]
	p.mu.Unlock()

	now := p.Now()
	if ok && now.Sub(cached.seenAt) < p.cacheExpiry {
		if v, ok := root.Object[cached.field]; ok && v.Kind == value.KindList {
			p.mu.Lock()
			p.fieldCache[stepID] = fieldCacheEntry{field: cached.field, seenAt: now}
			p.mu.Unlock()
			return v.List, cached.field
		}
		p.mu.Lock()
		delete(p.fieldCache, stepID)
		p.mu.Unlock()
	}

	for _, k := range root.SortedKeys() {
		v := root.Object[k]
		if v.Kind == value.KindList {
			p.mu.Lock()
			p.fieldCache[stepID] = fieldCacheEntry{field: k, seenAt: now}
			p.mu.Unlock()
			return v.List, k
		}
	}
	return nil, ""
}

func sinceParamName(s *SinceState) string {
	if s.Param != "" {
		return s.Param
	}
	return "since"
}

func formatSince(s *SinceState) string {
	t := s.Checkpoint
	if t.IsZero() {
		t = time.Unix(0, 0).UTC()
	}
	switch s.Format {
	case astmodel.SinceUnix:
		return strconv.FormatInt(t.Unix(), 10)
	case astmodel.SinceUnixMS:
		return strconv.FormatInt(t.UnixMilli(), 10)
	default:
		return t.UTC().Format(time.RFC3339)
	}
}
