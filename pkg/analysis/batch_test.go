package analysis

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough(_ context.Context, items []int) []string {
	out := make([]string, len(items))
	for i, v := range items {
		out[i] = fmt.Sprintf("ok:%d", v)
	}
	return out
}

func failedItem(item int, err error) string {
	return fmt.Sprintf("failed:%d:%v", item, err)
}

func TestNewBatchProcessorClampsBounds(t *testing.T) {
	p := NewBatchProcessor(0, 0, passthrough, failedItem)
	assert.Equal(t, 1, p.batchSize)
	assert.Equal(t, 1, p.maxConcurrent)

	p = NewBatchProcessor(1000, 50, passthrough, failedItem)
	assert.Equal(t, 100, p.batchSize)
	assert.Equal(t, 10, p.maxConcurrent)
}

func TestProcessPreservesItemOrder(t *testing.T) {
	p := NewBatchProcessor(3, 4, passthrough, failedItem)

	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}
	out := p.Process(context.Background(), items, nil)

	require.Len(t, out, 20)
	for i, r := range out {
		assert.Equal(t, fmt.Sprintf("ok:%d", i), r)
	}
}

func TestProcessReportsProgressPerBatch(t *testing.T) {
	p := NewBatchProcessor(3, 2, passthrough, failedItem)

	var mu sync.Mutex
	var calls []int
	finalProcessed := 0
	out := p.Process(context.Background(), []int{0, 1, 2, 3, 4, 5, 6},
		func(completedBatches, totalBatches, processedItems, totalItems int) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, completedBatches)
			finalProcessed = processedItems
			assert.Equal(t, 3, totalBatches)
			assert.Equal(t, 7, totalItems)
		})

	require.Len(t, out, 7)
	// One callback per completed batch, serialized and monotonically
	// increasing.
	require.Len(t, calls, 3)
	assert.Equal(t, []int{1, 2, 3}, calls)
	assert.Equal(t, 7, finalProcessed)
}

func TestProcessConvertsPanicsToFailedResults(t *testing.T) {
	p := NewBatchProcessor(2, 1,
		func(_ context.Context, items []int) []string {
			if items[0] == 2 {
				panic("boom")
			}
			return passthrough(context.Background(), items)
		},
		failedItem)

	out := p.Process(context.Background(), []int{0, 1, 2, 3, 4}, nil)

	require.Len(t, out, 5)
	assert.Equal(t, "ok:0", out[0])
	assert.Contains(t, out[2], "failed:2")
	assert.Contains(t, out[3], "failed:3")
	assert.Equal(t, "ok:4", out[4], "later batches still run after a panic")
}

func TestProcessStopsSchedulingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewBatchProcessor(2, 1, passthrough, failedItem)
	out := p.Process(ctx, []int{0, 1, 2, 3}, nil)

	assert.Empty(t, out, "no batches scheduled after cancellation")
}

func TestProcessEmptyInput(t *testing.T) {
	p := NewBatchProcessor(5, 2, passthrough, failedItem)
	assert.Nil(t, p.Process(context.Background(), nil, nil))
}
