// Package worker implements forging, chain sync, peer updates, and transaction
// sharing for the blockchain.
package worker

import (
	"net/http"
	"sync"
	"time"

	"github.com/taucoin/taunode/foundation/blockchain/chainsync"
	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/peer"
	"github.com/taucoin/taunode/foundation/blockchain/state"
)

// Default intervals of the ticker driven operations.
const (
	peerUpdateInterval = 10 * time.Second
	syncInterval       = 2 * time.Second
	requestTimeout     = 10 * time.Second
)

// =============================================================================

// Config represents the systems the worker drives.
type Config struct {
	State        *state.State
	Registry     *peer.Registry
	Sync         *chainsync.Manager
	Client       *http.Client
	PeerInterval time.Duration
	SyncInterval time.Duration
	EvHandler    state.EventHandler
}

// shareItem is a set of transactions to pass on and the peer they came from.
type shareItem struct {
	txs  []database.SignedTx
	from peer.NodeID
}

// Worker manages the PoT workflows for the blockchain.
type Worker struct {
	state         *state.State
	registry      *peer.Registry
	sync          *chainsync.Manager
	client        *http.Client
	wg            sync.WaitGroup
	peerTicker    *time.Ticker
	syncTicker    *time.Ticker
	shut          chan struct{}
	startForging  chan bool
	cancelForging chan chan struct{}
	txSharing     chan shareItem
	evHandler     state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(cfg Config) *Worker {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	peerInterval := cfg.PeerInterval
	if peerInterval <= 0 {
		peerInterval = peerUpdateInterval
	}

	syncEvery := cfg.SyncInterval
	if syncEvery <= 0 {
		syncEvery = syncInterval
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	w := Worker{
		state:         cfg.State,
		registry:      cfg.Registry,
		sync:          cfg.Sync,
		client:        client,
		peerTicker:    time.NewTicker(peerInterval),
		syncTicker:    time.NewTicker(syncEvery),
		shut:          make(chan struct{}),
		startForging:  make(chan bool, 1),
		cancelForging: make(chan chan struct{}, 1),
		txSharing:     make(chan shareItem, maxTxShareRequests),
		evHandler:     ev,
	}

	// Register this worker with the state package.
	cfg.State.Worker = &w

	// Connect to the known hosts before starting any support G's.
	w.runPeersOperation()

	// Load the set of operations we need to run.
	operations := []func(){
		w.peerOperations,
		w.syncOperations,
		w.forgingOperations,
		w.shareTxOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop tickers")
	w.peerTicker.Stop()
	w.syncTicker.Stop()

	w.evHandler("worker: shutdown: signal cancel forging")
	done := w.SignalCancelForging()
	done()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartForging starts a forging operation. If there is already a signal
// pending in the channel, just return since a forging operation will start.
func (w *Worker) SignalStartForging() {
	select {
	case w.startForging <- true:
	default:
	}
	w.evHandler("worker: SignalStartForging: forging signaled")
}

// SignalCancelForging signals the G executing the runForgingOperation
// function to stop immediately. That G will not return from the function
// until done is called. This allows the caller to complete any state changes
// before a new forging operation takes place.
func (w *Worker) SignalCancelForging() (done func()) {
	wait := make(chan struct{})

	select {
	case w.cancelForging <- wait:
	default:
	}
	w.evHandler("worker: SignalCancelForging: FORGING: CANCEL: signaled")

	return func() { close(wait) }
}

// SignalShareTx signals a share transaction operation. If
// maxTxShareRequests signals exist in the channel, we won't send these.
func (w *Worker) SignalShareTx(txs []database.SignedTx, from peer.NodeID) {
	select {
	case w.txSharing <- shareItem{txs: txs, from: from}:
		w.evHandler("worker: SignalShareTx: share Tx signaled: txs[%d]", len(txs))
	default:
		w.evHandler("worker: SignalShareTx: queue full, transactions won't be shared.")
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

// timeout returns the time allowed for one request to a peer.
func (w *Worker) timeout() time.Duration {
	if w.client.Timeout > 0 {
		return w.client.Timeout
	}
	return requestTimeout
}
