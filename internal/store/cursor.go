package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bbilly1/tubearchivist/internal/constants"
)

// Cursor is a lazy reader over one collection. Each call to Each opens a
// fresh point-in-time view, pulls pages until exhaustion, and releases the
// view on every exit path. A Cursor is restartable per call, not resumable
// mid-iteration.
type Cursor struct {
	Store      Store
	Collection string
	Filter     *Filter
	Sort       Sort
	Size       int
}

// ErrStop can be returned from an Each callback to end iteration early
// without reporting an error.
var ErrStop = errors.New("stop iteration")

// Each invokes fn for every matching document in sort order. The
// point-in-time view is closed before Each returns, even on callback error
// or context cancellation; a failed close is reported because the backend
// may cap concurrent views.
func (c *Cursor) Each(ctx context.Context, fn func(Document) error) error {
	size := c.Size
	if size <= 0 {
		size = constants.DownloadPageSize
	}

	pit, err := c.Store.OpenPIT(ctx, c.Collection, constants.PITKeepAlive)
	if err != nil {
		return fmt.Errorf("open point in time view on %s: %w", c.Collection, err)
	}

	iterErr := c.iterate(ctx, pit, size, fn)
	if errors.Is(iterErr, ErrStop) {
		iterErr = nil
	}

	// Close must run even when ctx is already cancelled.
	if closeErr := c.Store.ClosePIT(context.WithoutCancel(ctx), pit); closeErr != nil {
		closeErr = fmt.Errorf("close point in time view on %s: %w", c.Collection, closeErr)
		return errors.Join(iterErr, closeErr)
	}
	return iterErr
}

func (c *Cursor) iterate(ctx context.Context, pit string, size int, fn func(Document) error) error {
	var after []any
	for {
		page, err := c.Store.PageAfter(ctx, pit, PageQuery{
			Collection:  c.Collection,
			Filter:      c.Filter,
			Sort:        c.Sort,
			Size:        size,
			SearchAfter: after,
		})
		if err != nil {
			return err
		}
		if len(page.Hits) == 0 {
			return nil
		}
		for _, doc := range page.Hits {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(doc); err != nil {
				return err
			}
			after = doc.Sort
		}
	}
}

// Collect gathers every matching document. Convenience for callers that
// want the whole result set.
func (c *Cursor) Collect(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := c.Each(ctx, func(doc Document) error {
		docs = append(docs, doc)
		return nil
	})
	return docs, err
}
