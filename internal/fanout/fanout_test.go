package fanout_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slateci/slate-api-server/internal/fanout"
)

func TestRunPreservesSlotOrder(t *testing.T) {
	errs := make([]error, 4)
	for i := range errs {
		errs[i] = fmt.Errorf("task %d", i)
	}

	tasks := make([]fanout.Task, 4)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			// stagger completion in reverse submission order
			time.Sleep(time.Duration(len(tasks)-i) * 5 * time.Millisecond)
			return errs[i]
		}
	}

	got := fanout.Run(context.Background(), 4, tasks)
	require.Len(t, got, 4)
	for i := range got {
		assert.Same(t, errs[i], got[i], "slot %d", i)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32

	tasks := make([]fanout.Task, 8)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		}
	}

	errs := fanout.Run(context.Background(), 2, tasks)
	assert.NoError(t, fanout.Collect(errs))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunRecoversPanics(t *testing.T) {
	var ran atomic.Int32

	errs := fanout.Run(context.Background(), 2, []fanout.Task{
		func(context.Context) error { ran.Add(1); return nil },
		func(context.Context) error { panic("boom") },
		func(context.Context) error { ran.Add(1); return nil },
	})

	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	require.Error(t, errs[1])
	assert.Contains(t, errs[1].Error(), "boom")
	assert.NoError(t, errs[2])
	assert.Equal(t, int32(2), ran.Load())
}

func TestFailingTaskDoesNotCancelSiblings(t *testing.T) {
	boom := errors.New("branch failed")

	errs := fanout.Run(context.Background(), 1, []fanout.Task{
		func(context.Context) error { return boom },
		func(ctx context.Context) error {
			// with limit 1 this runs strictly after the failure
			return ctx.Err()
		},
	})

	assert.ErrorIs(t, errs[0], boom)
	assert.NoError(t, errs[1])
}

func TestRunDefaultLimit(t *testing.T) {
	var ran atomic.Int32

	tasks := make([]fanout.Task, 16)
	for i := range tasks {
		tasks[i] = func(context.Context) error { ran.Add(1); return nil }
	}

	errs := fanout.Run(context.Background(), 0, tasks)
	assert.NoError(t, fanout.Collect(errs))
	assert.Equal(t, int32(16), ran.Load())
}

func TestCollect(t *testing.T) {
	assert.NoError(t, fanout.Collect(nil))
	assert.NoError(t, fanout.Collect([]error{nil, nil}))

	sentinel := errors.New("one branch down")
	err := fanout.Collect([]error{nil, sentinel, errors.New("another")})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "2 errors occurred")
}
