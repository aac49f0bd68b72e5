// Package fanout runs batches of independent tasks with bounded
// concurrency. Cascade deletes use it to tear down every dependent of a
// group or cluster even when some branches fail.
package fanout

import (
	"context"
	"fmt"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of work in a batch.
type Task func(ctx context.Context) error

// Run executes every task and returns one error slot per task, in the order
// the tasks were submitted. limit bounds concurrency; a non-positive limit
// means runtime.NumCPU(). Every task is attempted: a failing or panicking
// task is recorded in its own slot and never cancels its siblings, so the
// caller's ctx reaches each task unmodified.
func Run(ctx context.Context, limit int, tasks []Task) []error {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	errs := make([]error, len(tasks))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, task := range tasks {
		g.Go(func() error {
			errs[i] = runOne(ctx, task)
			return nil
		})
	}
	// every closure returns nil; results travel through the slots
	_ = g.Wait()

	return errs
}

func runOne(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(ctx)
}

// Collect merges a batch's error slots into a single error. It returns nil
// when every slot is nil.
func Collect(errs []error) error {
	var merged *multierror.Error
	for _, err := range errs {
		if err != nil {
			merged = multierror.Append(merged, err)
		}
	}
	return merged.ErrorOrNil()
}
