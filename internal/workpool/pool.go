// Package workpool is the single concurrency limit shared by discovery scans
// and sync batches.
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool bounds how many units of work run at once.
type Pool struct {
	limit int
}

// New returns a pool admitting at most limit concurrent units.
func New(limit int) *Pool {
	if limit <= 0 {
		limit = 1
	}
	return &Pool{limit: limit}
}

// Each calls fn for every index in [0, n) with at most limit calls in flight and
// waits for all of them. The first error cancels the context handed to the
// remaining calls and is returned.
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// Batch is a half-open index range [From, To).
type Batch struct {
	From int
	To   int
}

// Len returns the number of items in the batch.
func (b Batch) Len() int {
	return b.To - b.From
}

// Split partitions n items into consecutive batches of at most size items.
func Split(n, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if n < 0 {
		return nil, fmt.Errorf("item count must not be negative")
	}

	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		batches = append(batches, Batch{From: start, To: end})
	}
	return batches, nil
}
