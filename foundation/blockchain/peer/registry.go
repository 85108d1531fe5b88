package peer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/taucoin/taunode/foundation/blockchain/database"
)

// MaxTxsPerMessage bounds the number of transactions sent in one message.
const MaxTxsPerMessage = 256

const (
	admissionInterval = time.Second
	banWindow         = 10 * time.Second
	banCacheSize      = 500
)

// EventHandler defines a function that is called when events occur in the
// processing of peers.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to run the registry.
type Config struct {
	MaxActivePeers int
	Trusted        *TrustFilter
	Sync           SyncManager
	Pending        PendingState
	Clock          mclock.Clock
	EvHandler      EventHandler
}

// blockItem is a block received from a peer waiting to be passed on.
type blockItem struct {
	block database.Block
	from  NodeID
}

// Registry admits handshaken peers into the set of active peers and runs the
// block and transaction propagation pipelines.
type Registry struct {
	maxActive int
	trusted   *TrustFilter
	sync      SyncManager
	pending   PendingState
	clock     mclock.Clock
	evHandler EventHandler

	mu       sync.Mutex
	active   map[NodeID]Channel
	newPeers []Channel

	disconnects *lru.Cache[string, mclock.AbsTime]
	blocks      *queue[blockItem]
	floods      *queue[Channel]

	wg   sync.WaitGroup
	shut chan struct{}
}

// NewRegistry constructs a registry. Call Run to start the background
// processing.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.MaxActivePeers <= 0 {
		return nil, fmt.Errorf("max active peers must be positive, got %d", cfg.MaxActivePeers)
	}
	if cfg.Sync == nil {
		return nil, errors.New("sync manager is required")
	}
	if cfg.Pending == nil {
		return nil, errors.New("pending state is required")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = mclock.System{}
	}

	r := Registry{
		maxActive:   cfg.MaxActivePeers,
		trusted:     cfg.Trusted,
		sync:        cfg.Sync,
		pending:     cfg.Pending,
		clock:       clock,
		evHandler:   ev,
		active:      make(map[NodeID]Channel),
		disconnects: lru.NewCache[string, mclock.AbsTime](banCacheSize),
		blocks:      newQueue[blockItem](),
		floods:      newQueue[Channel](),
		shut:        make(chan struct{}),
	}

	return &r, nil
}

// Run starts the admission, block distribution and transaction flood
// goroutines.
func (r *Registry) Run() {
	operations := []func(){
		r.admissionOperations,
		r.blockOperations,
		r.floodOperations,
	}

	g := len(operations)
	r.wg.Add(g)

	hasStarted := make(chan bool)

	for _, op := range operations {
		go func(op func()) {
			defer r.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	for i := 0; i < g; i++ {
		<-hasStarted
	}
}

// Shutdown signals the goroutines to stop and waits for them. Queued items
// are not processed after the signal.
func (r *Registry) Shutdown() {
	r.evHandler("peer: shutdown: started")
	defer r.evHandler("peer: shutdown: completed")

	close(r.shut)
	r.wg.Wait()
}

// =============================================================================

// Add hands a newly connected channel to the registry. It is considered on
// the next admission pass once its protocols are initialized.
func (r *Registry) Add(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.newPeers = append(r.newPeers, ch)
	r.evHandler("peer: Add: node[%s] ip[%s] inbound[%t]", ch.NodeID(), ch.RemoteIP(), ch.Inbound())
}

// ProcessNewPeers runs one admission pass over the channels handed to Add.
// The sync manager is told about admitted channels once the lock is
// released.
func (r *Registry) ProcessNewPeers() {
	var admitted []Channel

	r.mu.Lock()
	{
		var waiting []Channel
		for _, ch := range r.newPeers {
			if !ch.HandshakeState().ProtocolsInitialized() {
				waiting = append(waiting, ch)
				continue
			}

			_, exists := r.active[ch.NodeID()]
			switch {
			case exists:
				r.disconnect(ch, ReasonDuplicatePeer)

			case ch.Inbound() && len(r.active) >= r.maxActive && !r.trusted.Accept(ch):
				r.disconnect(ch, ReasonTooManyPeers)

			default:
				if r.process(ch) {
					admitted = append(admitted, ch)
				}
			}
		}

		r.newPeers = waiting
	}
	r.mu.Unlock()

	for _, ch := range admitted {
		r.activate(ch)
	}
}

// IsRecentlyDisconnected reports whether the registry disconnected a peer
// from this ip within the ban window. Expired entries are evicted.
func (r *Registry) IsRecentlyDisconnected(ip string) bool {
	at, exists := r.disconnects.Get(ip)
	if !exists {
		return false
	}

	if r.clock.Now().Sub(at) < banWindow {
		return true
	}

	r.disconnects.Remove(ip)
	return false
}

// NotifyDisconnect forgets the channel and tells the sync manager it is gone.
func (r *Registry) NotifyDisconnect(ch Channel) {
	r.mu.Lock()
	{
		if cur, exists := r.active[ch.NodeID()]; exists && cur == ch {
			delete(r.active, ch.NodeID())
		}

		for i, nc := range r.newPeers {
			if nc == ch {
				r.newPeers = append(r.newPeers[:i], r.newPeers[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	r.floods.remove(func(c Channel) bool { return c == ch })
	r.sync.OnDisconnect(ch)
	ch.OnDisconnect()

	r.evHandler("peer: NotifyDisconnect: node[%s] ip[%s]", ch.NodeID(), ch.RemoteIP())
}

// OnSyncDone tells every active channel the node has caught up.
func (r *Registry) OnSyncDone() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.active {
		ch.OnSyncDone()
	}

	r.evHandler("peer: OnSyncDone: notified[%d]", len(r.active))
}

// =============================================================================

// BroadcastTransactions sends the transactions to every active peer except
// exclude. Pass an empty id for transactions that originated here.
func (r *Registry) BroadcastTransactions(txs []database.SignedTx, exclude NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, ch := range r.active {
		if id == exclude {
			continue
		}
		if sent, err := sendTransactions(ch, txs); err != nil {
			errs = append(errs, fmt.Errorf("%s: sent[%d] dropped[%d]: %w", id, sent, len(txs)-sent, err))
		}
	}

	return errors.Join(errs...)
}

// BroadcastBlock sends the block to every active peer except exclude.
func (r *Registry) BroadcastBlock(block database.Block, exclude NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, ch := range r.active {
		if id == exclude {
			continue
		}
		if err := ch.SendNewBlock(block); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}

	return errors.Join(errs...)
}

// OnNewForeignBlock queues a block received from a peer to be passed on to
// the other peers.
func (r *Registry) OnNewForeignBlock(block database.Block, from NodeID) {
	r.blocks.push(blockItem{block: block, from: from})
}

// =============================================================================

// ActivePeer returns the active channel for the node or nil.
func (r *Registry) ActivePeer(id NodeID) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active[id]
}

// ActivePeers returns a copy of the active channels ordered by node id.
func (r *Registry) ActivePeers() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]Channel, 0, len(r.active))
	for _, ch := range r.active {
		peers = append(peers, ch)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].NodeID() < peers[j].NodeID() })

	return peers
}

// ActiveCount returns the number of active channels.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.active)
}

// =============================================================================

// disconnect drops a channel that failed admission and bans its ip. The
// caller holds the lock.
func (r *Registry) disconnect(ch Channel, reason ReasonCode) {
	r.evHandler("peer: disconnect: node[%s] ip[%s] reason[%s]", ch.NodeID(), ch.RemoteIP(), reason)

	r.disconnects.Add(ch.RemoteIP(), r.clock.Now())
	ch.Disconnect(reason)
}

// process marks a channel whose status exchange succeeded as active. The
// caller holds the lock.
func (r *Registry) process(ch Channel) bool {
	if !ch.HandshakeState().StatusSucceeded() {
		r.evHandler("peer: process: node[%s]: status handshake failed", ch.NodeID())
		return false
	}

	r.active[ch.NodeID()] = ch

	r.evHandler("peer: process: node[%s] ip[%s]: active[%d]", ch.NodeID(), ch.RemoteIP(), len(r.active))
	return true
}

// activate hands an admitted channel to the sync manager. The lock must not
// be held since the manager may be waiting on the network.
func (r *Registry) activate(ch Channel) {
	r.sync.AddPeer(ch)

	// The channel may have gone away between admission and here.
	if r.ActivePeer(ch.NodeID()) != ch {
		r.sync.OnDisconnect(ch)
		return
	}

	if r.sync.IsSyncDone() {
		ch.OnSyncDone()
		r.floods.push(ch)
	}
}

// admissionOperations runs ProcessNewPeers on a fixed cadence.
func (r *Registry) admissionOperations() {
	r.evHandler("peer: admissionOperations: G started")
	defer r.evHandler("peer: admissionOperations: G completed")

	ticker := time.NewTicker(admissionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !r.isShutdown() {
				r.ProcessNewPeers()
			}
		case <-r.shut:
			r.evHandler("peer: admissionOperations: received shut signal")
			return
		}
	}
}

// blockOperations passes foreign blocks on to the other peers.
func (r *Registry) blockOperations() {
	r.evHandler("peer: blockOperations: G started")
	defer r.evHandler("peer: blockOperations: G completed")

	for {
		item, ok := r.blocks.pop(r.shut)
		if !ok || r.isShutdown() {
			return
		}
		r.distributeBlock(item)
	}
}

// distributeBlock broadcasts one queued block. A failure is logged and the
// pipeline moves on.
func (r *Registry) distributeBlock(item blockItem) {
	defer func() {
		if rec := recover(); rec != nil {
			r.evHandler("peer: distributeBlock: PANIC: %v", rec)
		}
	}()

	var exclude NodeID
	if r.ActivePeer(item.from) != nil {
		exclude = item.from
	}

	if err := r.BroadcastBlock(item.block, exclude); err != nil {
		r.evHandler("peer: distributeBlock: %s: ERROR: %s", item.block, err)
	}
}

// floodOperations sends the pending transactions to newly activated peers.
func (r *Registry) floodOperations() {
	r.evHandler("peer: floodOperations: G started")
	defer r.evHandler("peer: floodOperations: G completed")

	for {
		ch, ok := r.floods.pop(r.shut)
		if !ok || r.isShutdown() {
			return
		}
		r.flood(ch)
	}
}

// flood sends the whole pending set to one channel.
func (r *Registry) flood(ch Channel) {
	defer func() {
		if rec := recover(); rec != nil {
			r.evHandler("peer: flood: PANIC: %v", rec)
		}
	}()

	txs := r.pending.PendingTransactions()
	if len(txs) == 0 {
		return
	}

	sent, err := sendTransactions(ch, txs)
	if err != nil {
		r.evHandler("peer: flood: node[%s]: sent[%d] dropped[%d]: ERROR: %s", ch.NodeID(), sent, len(txs)-sent, err)
		return
	}

	r.evHandler("peer: flood: node[%s]: sent[%d]", ch.NodeID(), len(txs))
}

// isShutdown is used to test if a shutdown has been signaled.
func (r *Registry) isShutdown() bool {
	select {
	case <-r.shut:
		return true
	default:
		return false
	}
}

// sendTransactions splits the transactions into messages no larger than
// MaxTxsPerMessage. It stops at the first message the channel refuses and
// returns how many transactions went out before it.
func sendTransactions(ch Channel, txs []database.SignedTx) (int, error) {
	var sent int
	for sent < len(txs) {
		n := min(len(txs)-sent, MaxTxsPerMessage)
		if err := ch.SendTransactions(txs[sent : sent+n]); err != nil {
			return sent, err
		}
		sent += n
	}
	return sent, nil
}
