package engine

import (
	tomb "gopkg.in/tomb.v2"

	"spotx/internal/apperr"
	"spotx/internal/models"
)

// CascadeCancel cancels every active order belonging to userID, fanning
// the cancellations out across a bounded worker pool, per spec.md §4.5:
// deleting a user must not leave its resting orders matchable. Workers run
// under a tomb.Tomb so the first hard failure stops the fan-out and is
// returned to the caller; KindUnknownOrder and KindIllegalState results (an
// order that is gone or no longer cancellable by the time its worker
// reaches it) are tolerated, not failures.
//
// Grounded on saiputravu-Exchange/internal/worker.go's tomb-supervised
// worker pool, adapted from a long-lived task-channel pool to a
// finite one-shot fan-out sized by matching.cascade_workers.
func (e *Engine) CascadeCancel(userID string) (cancelled int, err error) {
	active, err := e.orders.ListActiveByUser(e.db, userID)
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		return 0, nil
	}

	workers := e.cfg.CascadeWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(active) {
		workers = len(active)
	}

	tasks := make(chan *models.Order, len(active))
	for _, o := range active {
		tasks <- o
	}
	close(tasks)

	results := make(chan int, len(active))

	var t tomb.Tomb
	for i := 0; i < workers; i++ {
		t.Go(func() error {
			for {
				select {
				case <-t.Dying():
					return nil
				case o, ok := <-tasks:
					if !ok {
						return nil
					}
					if _, cancelErr := e.Cancel(o.ID); cancelErr != nil {
						if k, isApp := apperr.KindOf(cancelErr); isApp && (k == apperr.KindUnknownOrder || k == apperr.KindIllegalState) {
							continue
						}
						return cancelErr
					}
					results <- 1
				}
			}
		})
	}

	if waitErr := t.Wait(); waitErr != nil {
		return 0, waitErr
	}
	close(results)
	for range results {
		cancelled++
	}
	return cancelled, nil
}
