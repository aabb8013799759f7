// Package analysis implements the scene-analysis pipeline: the batch
// processor that fans scenes out to detectors under bounded concurrency,
// and the engine that turns detector output into a reviewable plan.
package analysis

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Batch size and concurrency clamps.
const (
	minBatchSize  = 1
	maxBatchSize  = 100
	minConcurrent = 1
	maxConcurrent = 10
)

// ProgressFunc is invoked once per completed batch.
type ProgressFunc func(completedBatches, totalBatches, processedItems, totalItems int)

// BatchProcessor splits work into contiguous batches and runs them under
// a bounded concurrency cap. Per-batch failures become synthetic
// per-item results; they never abort the run.
type BatchProcessor[T, R any] struct {
	batchSize     int
	maxConcurrent int

	// analyze processes one batch and returns one result per item, in
	// item order.
	analyze func(ctx context.Context, items []T) []R

	// failed builds the synthetic result recorded for an item when its
	// batch panics.
	failed func(item T, err error) R
}

// NewBatchProcessor creates a processor. batchSize is clamped to [1,100]
// and concurrency to [1,10].
func NewBatchProcessor[T, R any](
	batchSize, concurrent int,
	analyze func(ctx context.Context, items []T) []R,
	failed func(item T, err error) R,
) *BatchProcessor[T, R] {
	return &BatchProcessor[T, R]{
		batchSize:     clamp(batchSize, minBatchSize, maxBatchSize),
		maxConcurrent: clamp(concurrent, minConcurrent, maxConcurrent),
		analyze:       analyze,
		failed:        failed,
	}
}

type batchSpan struct {
	start, end int
}

// Process runs every batch and returns the accumulated results in item
// order. Cancellation is checked before each batch is scheduled:
// in-flight batches finish, unscheduled ones are skipped and their items
// are absent from the result.
func (p *BatchProcessor[T, R]) Process(ctx context.Context, items []T, progress ProgressFunc) []R {
	if len(items) == 0 {
		return nil
	}

	var batches []batchSpan
	for start := 0; start < len(items); start += p.batchSize {
		batches = append(batches, batchSpan{start: start, end: min(start+p.batchSize, len(items))})
	}

	results := make([]R, len(items))
	scheduled := make([]bool, len(batches))
	sem := semaphore.NewWeighted(int64(p.maxConcurrent))
	completions := make(chan batchSpan)

	// Progress reporting is serialized here so callbacks never run
	// concurrently.
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		completedBatches, processedItems := 0, 0
		for span := range completions {
			completedBatches++
			processedItems += span.end - span.start
			if progress != nil {
				progress(completedBatches, len(batches), processedItems, len(items))
			}
		}
	}()

	launched := make(chan struct{}, len(batches))
	count := 0
	for i, span := range batches {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		scheduled[i] = true
		count++
		go func(span batchSpan) {
			defer sem.Release(1)
			p.runBatch(ctx, items[span.start:span.end], results[span.start:span.end])
			completions <- span
			launched <- struct{}{}
		}(span)
	}

	for range count {
		<-launched
	}
	close(completions)
	<-reporterDone

	out := make([]R, 0, len(items))
	for i, span := range batches {
		if scheduled[i] {
			out = append(out, results[span.start:span.end]...)
		}
	}
	return out
}

// runBatch executes the analyzer, converting a panic into synthetic
// failed results for every item in the batch.
func (p *BatchProcessor[T, R]) runBatch(ctx context.Context, items []T, out []R) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("batch panicked: %v", r)
			for i, item := range items {
				out[i] = p.failed(item, err)
			}
		}
	}()
	copy(out, p.analyze(ctx, items))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
