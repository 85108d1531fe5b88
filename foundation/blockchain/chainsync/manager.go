package chainsync

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/header"
	"github.com/taucoin/taunode/foundation/blockchain/peer"
)

// Limits of a single request to the master peer.
const (
	MaxHashesAsk     = 256
	MaxBlocksAsk     = 32
	maxPendingHashes = 1 << 20
)

// Chain is the local chain the manager syncs.
type Chain interface {
	LatestBlock() database.Block
	HasBlock(hash header.Hash) bool
	ProcessProposedBlock(block database.Block) error
}

// Fetcher is implemented by channels that can serve sync requests.
type Fetcher interface {
	RequestStatus(ctx context.Context) (peer.Status, error)
	RequestBlockHashes(ctx context.Context, from header.Hash, limit int) ([]header.Hash, error)
	RequestBlocks(ctx context.Context, hashes []header.Hash) ([]database.Block, error)
}

// Listener is told once the node has caught up with its peers.
type Listener interface {
	OnSyncDone()
}

// Config represents the configuration required to run the manager.
type Config struct {
	Chain     Chain
	Queue     *Queue
	EvHandler EventHandler
}

// Manager keeps the set of sync peers and moves the sync forward one step
// at a time. The peer with the greatest cumulative difficulty is the master
// everything is fetched from. Requests to peers run without mu held, so
// AddPeer, OnDisconnect and IsSyncDone never wait on the network.
type Manager struct {
	chain     Chain
	queue     *Queue
	evHandler EventHandler
	syncDone  atomic.Bool

	// step serializes Step. mu guards the fields below it.
	step     sync.Mutex
	mu       sync.Mutex
	peers    map[peer.NodeID]peer.Channel
	master   peer.Channel
	state    StateName
	pending  []header.Hash
	listener Listener
}

// New constructs a manager starting in the phase Initiate picks.
func New(cfg Config) (*Manager, error) {
	if cfg.Chain == nil || cfg.Queue == nil {
		return nil, errors.New("chain and queue are required")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	m := Manager{
		chain:     cfg.Chain,
		queue:     cfg.Queue,
		evHandler: ev,
		peers:     make(map[peer.NodeID]peer.Channel),
		state:     Initiate(cfg.Queue, ev),
	}

	return &m, nil
}

// SetListener registers who is told when the sync is done.
func (m *Manager) SetListener(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listener = listener
}

// =============================================================================
// These methods implement the peer.SyncManager interface.

// AddPeer adds an active peer to sync from.
func (m *Manager) AddPeer(ch peer.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.peers[ch.NodeID()] = ch
	m.evHandler("chainsync: AddPeer: node[%s] peers[%d]", ch.NodeID(), len(m.peers))
}

// OnDisconnect forgets the peer. Losing the master drops the hashes
// collected from it.
func (m *Manager) OnDisconnect(ch peer.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, exists := m.peers[ch.NodeID()]; exists && cur == ch {
		delete(m.peers, ch.NodeID())
	}

	if m.master == ch {
		m.evHandler("chainsync: OnDisconnect: lost master node[%s]", ch.NodeID())
		m.master = nil
		m.pending = nil
	}
}

// IsSyncDone reports whether the node has caught up at least once.
func (m *Manager) IsSyncDone() bool {
	return m.syncDone.Load()
}

// =============================================================================

// State returns the current phase.
func (m *Manager) State() StateName {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Master returns the peer the sync fetches from, or nil.
func (m *Manager) Master() peer.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.master
}

// Step moves the sync forward by one request to the master.
func (m *Manager) Step(ctx context.Context) error {
	m.step.Lock()
	defer m.step.Unlock()

	m.refreshStatus(ctx)

	local := m.chain.LatestBlock()

	m.mu.Lock()
	m.master = m.selectMaster()
	master := m.master

	if m.state == DoneHashRetrieving {
		m.setState(BlockRetrieving)
	}

	if m.state == BlockRetrieving {
		m.mu.Unlock()
		return m.retrieveBlocks(ctx, master)
	}

	if master == nil || !ahead(master.Status(), local) {
		m.pending = nil
		m.setState(Idle)
		m.mu.Unlock()
		m.done()
		return nil
	}

	m.setState(HashRetrieving)
	m.mu.Unlock()

	return m.retrieveHashes(ctx, master)
}

// =============================================================================

// retrieveHashes asks the master for the next run of ancestor hashes. Once a
// hash the chain knows is reached the collected hashes are queued parent
// first.
func (m *Manager) retrieveHashes(ctx context.Context, master peer.Channel) error {
	fetcher := master.(Fetcher)

	m.mu.Lock()
	from := master.Status().LatestHash
	resuming := len(m.pending) > 0
	if resuming {
		from = m.pending[len(m.pending)-1]
	}
	m.mu.Unlock()

	hashes, err := fetcher.RequestBlockHashes(ctx, from, MaxHashesAsk)
	if err != nil {
		return fmt.Errorf("request hashes from %s: %w", master.NodeID(), err)
	}

	if resuming && len(hashes) > 0 && hashes[0] == from {
		hashes = hashes[1:]
	}

	if len(hashes) == 0 {
		m.dropMaster(master, peer.ReasonUselessPeer)
		return fmt.Errorf("master returned no hashes from %s", from)
	}

	var unknown []header.Hash
	found := false
	for _, hash := range hashes {
		if m.chain.HasBlock(hash) {
			found = true
			break
		}
		unknown = append(unknown, hash)
	}

	m.mu.Lock()

	// The master was lost while the request was out.
	if m.master != master {
		m.mu.Unlock()
		return nil
	}

	m.pending = append(m.pending, unknown...)
	pending := len(m.pending)

	var queued []header.Hash
	if found && pending <= maxPendingHashes {
		queued = make([]header.Hash, pending)
		for i, hash := range m.pending {
			queued[pending-1-i] = hash
		}
		m.pending = nil
	}
	m.mu.Unlock()

	if pending > maxPendingHashes {
		m.dropMaster(master, peer.ReasonUselessPeer)
		return errors.New("too many hashes without reaching a known block")
	}

	m.evHandler("chainsync: retrieveHashes: received[%d] pending[%d] known[%t]", len(hashes), pending, found)

	if !found {
		return nil
	}

	if err := m.queue.AddHashes(queued); err != nil {
		return err
	}

	m.enter(DoneHashRetrieving)
	return nil
}

// retrieveBlocks connects the solid blocks, then fetches the next run of
// queued hashes from the master and connects those.
func (m *Manager) retrieveBlocks(ctx context.Context, master peer.Channel) error {
	if err := m.connectSolid(master); err != nil {
		return err
	}

	if m.queue.HashCount() == 0 {
		m.enter(HashRetrieving)
		return nil
	}

	if master == nil {
		return nil
	}
	fetcher := master.(Fetcher)

	hashes, err := m.queue.PollHashes(MaxBlocksAsk)
	if err != nil {
		return err
	}

	blocks, err := fetcher.RequestBlocks(ctx, hashes)
	if err != nil {
		m.reset()
		return fmt.Errorf("request blocks from %s: %w", master.NodeID(), err)
	}

	if len(blocks) != len(hashes) {
		m.reset()
		m.dropMaster(master, peer.ReasonBadProtocol)
		return fmt.Errorf("asked for %d blocks, got %d", len(hashes), len(blocks))
	}

	for i, block := range blocks {
		if block.Hash() != hashes[i] {
			m.reset()
			m.dropMaster(master, peer.ReasonBadProtocol)
			return fmt.Errorf("block %d: got %s, asked for %s", i, block.Hash(), hashes[i])
		}
	}

	if err := m.queue.AddBlocks(blocks); err != nil {
		return err
	}

	return m.connectSolid(master)
}

// connectSolid hands the solid blocks to the chain in order. A block the
// chain rejects ends the run and the master that served it is dropped.
func (m *Manager) connectSolid(master peer.Channel) error {
	for m.queue.HasSolidBlocks() {
		blocks, err := m.queue.PollBlocks(MaxBlocksAsk)
		if err != nil {
			return err
		}

		for _, block := range blocks {
			if m.chain.HasBlock(block.Hash()) {
				continue
			}

			if err := m.chain.ProcessProposedBlock(block); err != nil {
				m.reset()
				m.dropMaster(master, peer.ReasonBadProtocol)
				return fmt.Errorf("connect %s: %w", block.Hash(), err)
			}
		}

		m.evHandler("chainsync: connectSolid: connected[%d] tip[%s]", len(blocks), m.chain.LatestBlock())
	}

	return nil
}

// =============================================================================

// refreshStatus asks every peer for its status. The peers are copied out
// first so the requests run without the lock.
func (m *Manager) refreshStatus(ctx context.Context) {
	m.mu.Lock()
	fetchers := make(map[peer.NodeID]Fetcher, len(m.peers))
	for id, ch := range m.peers {
		if fetcher, ok := ch.(Fetcher); ok {
			fetchers[id] = fetcher
		}
	}
	m.mu.Unlock()

	for id, fetcher := range fetchers {
		if _, err := fetcher.RequestStatus(ctx); err != nil {
			m.evHandler("chainsync: refreshStatus: node[%s]: ERROR: %s", id, err)
		}
	}
}

// selectMaster returns the peer with the greatest cumulative difficulty.
// The current master is kept on a tie. The caller holds the lock.
func (m *Manager) selectMaster() peer.Channel {
	best := m.master
	if best != nil {
		if _, exists := m.peers[best.NodeID()]; !exists {
			best = nil
		}
	}

	for _, ch := range m.peers {
		if _, ok := ch.(Fetcher); !ok {
			continue
		}
		if best == nil || difficulty(ch.Status()).Cmp(difficulty(best.Status())) > 0 {
			best = ch
		}
	}

	if best != m.master {
		m.pending = nil
		if best != nil {
			m.evHandler("chainsync: selectMaster: node[%s] cd[%s]", best.NodeID(), difficulty(best.Status()))
		}
	}

	return best
}

// dropMaster forgets the master and disconnects it. The registry informs
// the manager again through OnDisconnect, so the lock is released first.
func (m *Manager) dropMaster(master peer.Channel, reason peer.ReasonCode) {
	if master == nil {
		return
	}

	m.mu.Lock()
	if cur, exists := m.peers[master.NodeID()]; exists && cur == master {
		delete(m.peers, master.NodeID())
	}
	if m.master == master {
		m.master = nil
		m.pending = nil
	}
	m.mu.Unlock()

	m.evHandler("chainsync: dropMaster: node[%s] reason[%s]", master.NodeID(), reason)

	master.Disconnect(reason)
}

// reset drops everything queued and starts over from hash retrieval.
func (m *Manager) reset() {
	if err := m.queue.Clear(); err != nil {
		m.evHandler("chainsync: reset: ERROR: %s", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = nil
	m.setState(HashRetrieving)
}

// enter moves to the phase.
func (m *Manager) enter(state StateName) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setState(state)
}

// setState moves to the phase. The caller holds the lock.
func (m *Manager) setState(state StateName) {
	if m.state != state {
		m.evHandler("chainsync: state: %s -> %s", m.state, state)
		m.state = state
	}
}

// done marks the sync complete the first time the node catches up.
func (m *Manager) done() {
	if !m.syncDone.CompareAndSwap(false, true) {
		return
	}

	m.evHandler("chainsync: sync done: tip[%s]", m.chain.LatestBlock())

	m.mu.Lock()
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		go listener.OnSyncDone()
	}
}

// ahead reports whether the peer claims more work than the local tip.
func ahead(status peer.Status, local database.Block) bool {
	return difficulty(status).Cmp(local.CumulativeDifficulty) > 0
}

func difficulty(status peer.Status) *big.Int {
	if status.CumulativeDifficulty == nil {
		return new(big.Int)
	}
	return status.CumulativeDifficulty
}
