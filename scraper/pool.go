package scraper

import (
	"context"
	"errors"
	"log"
	"sync"

	"vgsi_scraper/fetch"
	"vgsi_scraper/models"
	"vgsi_scraper/storage"
)

// Runner processes tasks of one stage. Each pool worker owns its own
// Runner instance, so runners can hold per-worker state like a browser
// driver without locking.
type Runner interface {
	Process(ctx context.Context, task models.Task) error
	Close() error
}

// NewRunner builds a Runner for one worker. Construction failures are
// fatal to the whole run (no fetch channel can be established).
type NewRunner func(ctx context.Context) (Runner, error)

// Stats aggregates task outcomes for one stage.
type Stats struct {
	Succeeded  int
	SoftFailed int
	// Fatal is set when the stage aborted before draining its tasks.
	Fatal error
}

// Run drains tasks through a fixed pool of workers. Soft failures are
// recorded and the pool moves on; a fatal failure cancels the pool and
// leaves unprocessed tasks pending. Context cancellation (signal,
// fatal elsewhere) leaves the in-flight tasks in_progress so the next
// run requeues them.
func Run(ctx context.Context, store *storage.SQLiteStore, tasks []models.Task, workers int, newRunner NewRunner) Stats {
	if len(tasks) == 0 {
		return Stats{}
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskCh := make(chan models.Task)
	results := make(chan outcome, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, id, store, taskCh, results, newRunner)
		}(i)
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make(chan Stats, 1)
	go func() {
		var stats Stats
		for out := range results {
			switch {
			case out.fatal != nil:
				if stats.Fatal == nil {
					stats.Fatal = out.fatal
				}
				cancel()
			case out.skipped:
				// interrupted mid-task, left in_progress
			case out.err != nil:
				stats.SoftFailed++
			default:
				stats.Succeeded++
			}
		}
		done <- stats
	}()

	wg.Wait()
	close(results)
	return <-done
}

type outcome struct {
	task    models.Task
	err     error
	fatal   error
	skipped bool
}

func runWorker(ctx context.Context, id int, store *storage.SQLiteStore, tasks <-chan models.Task, results chan<- outcome, newRunner NewRunner) {
	runner, err := newRunner(ctx)
	if err != nil {
		log.Printf("worker %d: startup failed: %v", id, err)
		results <- outcome{fatal: err}
		return
	}
	defer runner.Close()

	for task := range tasks {
		if ctx.Err() != nil {
			return
		}
		results <- processTask(ctx, store, runner, task)
	}
}

func processTask(ctx context.Context, store *storage.SQLiteStore, runner Runner, task models.Task) outcome {
	if err := store.MarkInProgress(task.ID); err != nil {
		return outcome{task: task, fatal: err}
	}

	err := runner.Process(ctx, task)
	if err == nil {
		if err := store.MarkDone(task.ID); err != nil {
			return outcome{task: task, fatal: err}
		}
		return outcome{task: task}
	}

	// A canceled run leaves the task in_progress; the next run's
	// orphan requeue returns it to pending.
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return outcome{task: task, skipped: true}
	}

	if fetch.IsFatal(err) {
		log.Printf("task %s: fatal: %v", task.ID, err)
		return outcome{task: task, fatal: err}
	}

	attempts := 1
	var fe *fetch.Error
	if errors.As(err, &fe) && fe.Attempts > 0 {
		attempts = fe.Attempts
	}
	if markErr := store.MarkFailed(task.ID, err.Error(), attempts); markErr != nil {
		return outcome{task: task, fatal: markErr}
	}
	log.Printf("task %s: failed after %d attempt(s): %v", task.ID, attempts, err)
	return outcome{task: task, err: err}
}
