package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bbilly1/tubearchivist/internal/constants"
	"github.com/bbilly1/tubearchivist/internal/httpclient"
	"github.com/bbilly1/tubearchivist/internal/logger"
)

// Elastic talks to an Elasticsearch-compatible document store over its JSON
// API: _create for dedup writes, _bulk NDJSON for batches, point-in-time
// handles plus search_after for deep pagination.
type Elastic struct {
	baseURL string
	client  *httpclient.Client
	log     *logger.Logger
}

// NewElastic creates an Elasticsearch-backed store.
func NewElastic(baseURL string, client *httpclient.Client, log *logger.Logger) *Elastic {
	if client == nil {
		client = httpclient.NewClient(nil, 0)
	}
	return &Elastic{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log.WithComponent("store"),
	}
}

// do sends one request and decodes the response into out (when non-nil).
// Any status outside okStatuses becomes a StatusError carrying the body.
func (e *Elastic) do(ctx context.Context, method, path string, body any, out any, okStatuses ...int) error {
	var reader io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case string:
		// pre-encoded NDJSON for _bulk
		reader = strings.NewReader(b)
		contentType = "application/x-ndjson"
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, status := range okStatuses {
		ok = ok || resp.StatusCode == status
	}
	if !ok {
		statusErr := &StatusError{Code: resp.StatusCode, Body: string(raw)}
		e.log.Error("store request failed", "method", method, "path", path, "status", resp.StatusCode, "body", string(raw))
		return statusErr
	}

	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// CreateIfAbsent implements Store.
func (e *Elastic) CreateIfAbsent(ctx context.Context, collection, id string, doc any) error {
	err := e.do(ctx, http.MethodPut, fmt.Sprintf("/%s/_create/%s", collection, id), doc, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict {
		return ErrExists
	}
	return err
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// BulkCreate implements Store.
func (e *Elastic) BulkCreate(ctx context.Context, collection string, docs []BulkDoc) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	payload, err := buildBulk(collection, "create", docs)
	if err != nil {
		return 0, err
	}

	var resp bulkResponse
	if err := e.do(ctx, http.MethodPost, "/_bulk", payload, &resp); err != nil {
		return 0, err
	}

	skipped := 0
	failed := 0
	for _, item := range resp.Items {
		action := item["create"]
		switch {
		case action.Status == http.StatusConflict:
			// duplicate create attempts are expected, the id stays as-is
			skipped++
		case action.Status >= 300:
			failed++
			e.log.Error("bulk create item failed", "collection", collection, "status", action.Status, "error", string(action.Error))
		}
	}
	if failed > 0 {
		return skipped, fmt.Errorf("bulk create on %s: %d item(s) failed", collection, failed)
	}
	return skipped, nil
}

// BulkUpdate implements Store.
func (e *Elastic) BulkUpdate(ctx context.Context, collection string, docs []BulkDoc) error {
	if len(docs) == 0 {
		return nil
	}
	payload, err := buildBulk(collection, "update", docs)
	if err != nil {
		return err
	}

	var resp bulkResponse
	if err := e.do(ctx, http.MethodPost, "/_bulk", payload, &resp); err != nil {
		return err
	}

	failed := 0
	for _, item := range resp.Items {
		if action := item["update"]; action.Status >= 300 {
			failed++
			e.log.Error("bulk update item failed", "collection", collection, "status", action.Status, "error", string(action.Error))
		}
	}
	if failed > 0 {
		return fmt.Errorf("bulk update on %s: %d item(s) failed", collection, failed)
	}
	return nil
}

// buildBulk encodes the NDJSON body for a _bulk request. Update actions wrap
// the payload in a partial "doc" per the API.
func buildBulk(collection, action string, docs []BulkDoc) (string, error) {
	var b strings.Builder
	for _, d := range docs {
		meta, err := json.Marshal(map[string]any{
			action: map[string]string{"_index": collection, "_id": d.ID},
		})
		if err != nil {
			return "", err
		}
		var payload any = d.Doc
		if action == "update" {
			payload = map[string]any{"doc": d.Doc}
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		b.Write(meta)
		b.WriteByte('\n')
		b.Write(body)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Delete implements Store.
func (e *Elastic) Delete(ctx context.Context, collection, id string) error {
	err := e.do(ctx, http.MethodDelete, fmt.Sprintf("/%s/_doc/%s", collection, id), nil, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// GetByID implements Store.
func (e *Elastic) GetByID(ctx context.Context, collection, id string, out any) error {
	var resp struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	err := e.do(ctx, http.MethodGet, fmt.Sprintf("/%s/_doc/%s", collection, id), nil, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !resp.Found {
		return ErrNotFound
	}
	return json.Unmarshal(resp.Source, out)
}

// OpenPIT implements Store.
func (e *Elastic) OpenPIT(ctx context.Context, collection string, keepAlive time.Duration) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/%s/_pit?keep_alive=%s", collection, keepAliveString(keepAlive))
	if err := e.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ClosePIT implements Store.
func (e *Elastic) ClosePIT(ctx context.Context, pit string) error {
	return e.do(ctx, http.MethodDelete, "/_pit", map[string]string{"id": pit}, nil)
}

// PageAfter implements Store.
func (e *Elastic) PageAfter(ctx context.Context, pit string, q PageQuery) (Page, error) {
	query := map[string]any{"match_all": map[string]any{}}
	if q.Filter != nil {
		query = map[string]any{
			"term": map[string]any{q.Filter.Field: map[string]any{"value": q.Filter.Value}},
		}
	}
	order := "asc"
	if q.Sort.Desc {
		order = "desc"
	}
	body := map[string]any{
		"size":  q.Size,
		"query": query,
		"pit":   map[string]string{"id": pit, "keep_alive": keepAliveString(constants.PITKeepAlive)},
		"sort":  []any{map[string]any{q.Sort.Field: map[string]string{"order": order}}},
	}
	if len(q.SearchAfter) > 0 {
		body["search_after"] = q.SearchAfter
	}

	var resp struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Source json.RawMessage `json:"_source"`
				Sort   []any           `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := e.do(ctx, http.MethodPost, "/_search", body, &resp); err != nil {
		return Page{}, err
	}

	page := Page{Hits: make([]Document, 0, len(resp.Hits.Hits))}
	for _, hit := range resp.Hits.Hits {
		page.Hits = append(page.Hits, Document{ID: hit.ID, Source: hit.Source, Sort: hit.Sort})
	}
	return page, nil
}

func keepAliveString(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 60
	}
	return fmt.Sprintf("%ds", seconds)
}
