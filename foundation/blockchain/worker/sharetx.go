package worker

// maxTxShareRequests represents the max number of pending tx network share
// requests that can be outstanding before share requests are dropped. To keep
// this simple, a buffered channel of this arbitrary number is being used. If
// the channel does become full, requests for new transactions to be shared
// will not be accepted.
const maxTxShareRequests = 100

// =============================================================================

// shareTxOperations handles sharing new transactions.
func (w *Worker) shareTxOperations() {
	w.evHandler("worker: shareTxOperations: G started")
	defer w.evHandler("worker: shareTxOperations: G completed")

	for {
		select {
		case item := <-w.txSharing:
			if !w.isShutdown() {
				w.runShareTxOperation(item)
			}
		case <-w.shut:
			w.evHandler("worker: shareTxOperations: received shut signal")
			return
		}
	}
}

// runShareTxOperation floods the transactions to the active peers except the
// one they came from.
func (w *Worker) runShareTxOperation(item shareItem) {
	w.evHandler("worker: runShareTxOperation: started: txs[%d]", len(item.txs))
	defer w.evHandler("worker: runShareTxOperation: completed")

	if err := w.registry.BroadcastTransactions(item.txs, item.from); err != nil {
		w.evHandler("worker: runShareTxOperation: WARNING: %s", err)
	}
}
