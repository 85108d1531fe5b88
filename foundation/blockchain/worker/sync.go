package worker

import (
	"context"
	"time"
)

// syncOperations moves the chain sync forward on every tick.
func (w *Worker) syncOperations() {
	w.evHandler("worker: syncOperations: G started")
	defer w.evHandler("worker: syncOperations: G completed")

	for {
		select {
		case <-w.syncTicker.C:
			if !w.isShutdown() {
				w.runSyncOperation()
			}
		case <-w.shut:
			w.evHandler("worker: syncOperations: received shut signal")
			return
		}
	}
}

// runSyncOperation runs one sync step. Forging starts the first time the
// node has caught up.
func (w *Worker) runSyncOperation() {
	wasDone := w.sync.IsSyncDone()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout()+5*time.Second)
	defer cancel()

	if err := w.sync.Step(ctx); err != nil {
		w.evHandler("worker: runSyncOperation: state[%s]: ERROR: %s", w.sync.State(), err)
	}

	if !wasDone && w.sync.IsSyncDone() {
		w.evHandler("worker: runSyncOperation: sync done: tip[%s]", w.state.LatestBlock())
		w.SignalStartForging()
	}
}
