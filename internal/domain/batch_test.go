package domain

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchAccumulator_ConcurrentRecording(t *testing.T) {
	const total = 200

	var (
		progressMu sync.Mutex
		lastSeen   int
		monotonic  = true
	)
	acc := NewBatchAccumulator(total, func(completed, n int) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if completed <= lastSeen {
			monotonic = false
		}
		lastSeen = completed
	})

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				acc.RecordFailure(fmt.Sprintf("item-%d", i), errors.New("boom"))
				return
			}
			acc.RecordSuccess(0.001)
		}(i)
	}
	wg.Wait()

	res := acc.Finish(1500*time.Millisecond, false)

	require.NoError(t, res.CheckInvariant())
	assert.Equal(t, total, res.Total)
	assert.Equal(t, 150, res.Successful)
	assert.Equal(t, 50, res.Failed)
	assert.Len(t, res.Errors, 50)
	assert.InDelta(t, 0.150, res.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(1500), res.TotalLatencyMs)
	assert.False(t, res.Cancelled)
	assert.True(t, monotonic, "progress must never go backwards")
	assert.Equal(t, total, lastSeen)
}

func TestBatchAccumulator_NilError(t *testing.T) {
	acc := NewBatchAccumulator(1, nil)
	acc.RecordFailure("x", nil)

	res := acc.Finish(0, true)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "unknown error", res.Errors[0].Message)
	assert.True(t, res.Cancelled)
}

func TestBatchAccumulator_FinishReturnsCopy(t *testing.T) {
	acc := NewBatchAccumulator(2, nil)
	acc.RecordFailure("a", errors.New("first"))

	res := acc.Finish(0, false)
	acc.RecordFailure("b", errors.New("second"))

	assert.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Failed)
}

func TestBatchResult_CheckInvariant(t *testing.T) {
	r := &BatchResult{Total: 3, Successful: 1, Failed: 1}
	assert.Error(t, r.CheckInvariant())

	r.Failed = 2
	assert.NoError(t, r.CheckInvariant())
	assert.Equal(t, 3, r.Settled())
}
