// Package store defines the document store contract the queue and the
// subscription manager persist through, plus the backends implementing it.
//
// The contract is deliberately small: per-document create/update/delete/get,
// bulk variants with create-or-skip semantics, and point-in-time paginated
// reads. Nothing above this package knows any query language.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document id does not exist in a collection.
var ErrNotFound = errors.New("document not found")

// ErrExists is returned by create operations when the document id is already
// taken. Callers rely on this for dedup: a create must never overwrite.
var ErrExists = errors.New("document already exists")

// StatusError is a non-2xx response from a remote store backend. The full
// response body is retained for logging.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("store returned status %d: %s", e.Code, e.Body)
}

// Sort is a single-field sort order. Backends add the document id as an
// implicit tiebreaker so pagination is total.
type Sort struct {
	Field string
	Desc  bool
}

// Filter is an exact-match predicate on one document field. A nil *Filter
// matches every document.
type Filter struct {
	Field string
	Value any
}

// Document is one hit from a paginated read. Sort carries the backend's
// cursor values for resuming after this document.
type Document struct {
	ID     string
	Source json.RawMessage
	Sort   []any
}

// Decode unmarshals the document body into out.
func (d Document) Decode(out any) error {
	return json.Unmarshal(d.Source, out)
}

// Page is one page of hits. An empty page signals exhaustion.
type Page struct {
	Hits []Document
}

// BulkDoc pairs a document id with its payload for bulk writes.
type BulkDoc struct {
	ID  string
	Doc any
}

// PageQuery describes one page request against an open point-in-time view.
type PageQuery struct {
	Collection  string
	Filter      *Filter
	Sort        Sort
	Size        int
	SearchAfter []any
}

// Store is the document store contract.
type Store interface {
	// CreateIfAbsent writes doc under id unless the id exists, in which
	// case it returns ErrExists and leaves the stored document untouched.
	CreateIfAbsent(ctx context.Context, collection, id string, doc any) error

	// BulkCreate writes each doc with create semantics. Existing ids are
	// skipped, not overwritten; the count of skipped docs is returned.
	BulkCreate(ctx context.Context, collection string, docs []BulkDoc) (int, error)

	// BulkUpdate merges each doc into the stored document. Missing ids
	// are an error.
	BulkUpdate(ctx context.Context, collection string, docs []BulkDoc) error

	// Delete removes id. Returns ErrNotFound when absent.
	Delete(ctx context.Context, collection, id string) error

	// GetByID unmarshals the document under id into out.
	GetByID(ctx context.Context, collection, id string, out any) error

	// OpenPIT opens a consistent point-in-time view over collection and
	// returns its handle. The caller owns the handle and must close it.
	OpenPIT(ctx context.Context, collection string, keepAlive time.Duration) (string, error)

	// ClosePIT releases a point-in-time view.
	ClosePIT(ctx context.Context, pit string) error

	// PageAfter returns the next page from an open point-in-time view,
	// resuming after q.SearchAfter when set.
	PageAfter(ctx context.Context, pit string, q PageQuery) (Page, error)
}
