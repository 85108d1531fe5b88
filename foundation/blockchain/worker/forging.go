package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/state"
)

// retryDelay is the shortest wait between two forging attempts.
const retryDelay = 100 * time.Millisecond

// forgingOperations handles forging.
func (w *Worker) forgingOperations() {
	w.evHandler("worker: forgingOperations: G started")
	defer w.evHandler("worker: forgingOperations: G completed")

	for {
		select {
		case <-w.startForging:
			if !w.isShutdown() {
				w.runForgingOperation()
			}
		case <-w.shut:
			w.evHandler("worker: forgingOperations: received shut signal")
			return
		}
	}
}

// runForgingOperation waits for this node's forging time on top of the tip
// and forges the next block unless a new tip arrives first.
func (w *Worker) runForgingOperation() {
	w.evHandler("worker: runForgingOperation: FORGING: started")
	defer w.evHandler("worker: runForgingOperation: FORGING: completed")

	// Blocks forged before the node caught up would only be orphaned.
	if !w.sync.IsSyncDone() {
		w.evHandler("worker: runForgingOperation: FORGING: waiting for sync")
		return
	}

	// If forging is signalled to be cancelled by the ProcessProposedBlock
	// function, this G can't terminate until it is told it can.
	var wait chan struct{}
	defer func() {
		if wait != nil {
			w.evHandler("worker: runForgingOperation: FORGING: termination signal: waiting")
			<-wait
			w.evHandler("worker: runForgingOperation: FORGING: termination signal: received")
		}
	}()

	// Drain the cancel forging channel before starting.
	select {
	case <-w.cancelForging:
		w.evHandler("worker: runForgingOperation: FORGING: drained cancel channel")
	default:
	}

	// Create a context so forging can be cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Can't return from this function until these G's are complete.
	var wg sync.WaitGroup
	wg.Add(2)

	// This G exists to cancel the forging operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case wait = <-w.cancelForging:
			w.evHandler("worker: runForgingOperation: FORGING: CANCEL: requested")
		case <-w.shut:
		case <-ctx.Done():
		}
	}()

	// This G is performing the forging.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		block, err := w.forge(ctx)
		if err != nil {
			switch {
			case errors.Is(err, state.ErrNoForgingPower):
				w.evHandler("worker: runForgingOperation: FORGING: WARNING: no forging power")
			case ctx.Err() != nil:
				w.evHandler("worker: runForgingOperation: FORGING: CANCEL: complete")
			default:
				w.evHandler("worker: runForgingOperation: FORGING: ERROR: %s", err)
			}
			return
		}

		// A block is forged. Send the new block to the network and start
		// on the next one. Log the error, but that's it.
		if err := w.registry.BroadcastBlock(block, ""); err != nil {
			w.evHandler("worker: runForgingOperation: FORGING: broadcastBlock: WARNING %s", err)
		}

		w.SignalStartForging()
	}()

	// Wait for both G's to terminate.
	wg.Wait()
}

// forge sleeps until the forging time and forges. The forging time is read
// again after every wake up since the tip may have moved.
func (w *Worker) forge(ctx context.Context) (database.Block, error) {
	for {
		next, err := w.state.NextForgingTime()
		if err != nil {
			return database.Block{}, err
		}

		wait := max(time.Until(time.Unix(int64(next), 0)), retryDelay)
		w.evHandler("worker: forge: FORGING: next forging time[%d] wait[%v]", next, wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return database.Block{}, ctx.Err()
		}

		block, err := w.state.ForgeBlock(ctx)
		if errors.Is(err, state.ErrNotForgingTime) {
			continue
		}

		return block, err
	}
}
