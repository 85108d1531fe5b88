// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/genesis"
	"github.com/taucoin/taunode/foundation/blockchain/header"
	"github.com/taucoin/taunode/foundation/blockchain/mempool"
	"github.com/taucoin/taunode/foundation/blockchain/peer"
	"github.com/taucoin/taunode/foundation/blockchain/signature"
)

// maxClockDrift is how far in the future a block timestamp may be.
const maxClockDrift = 15 * time.Second

// Set of error variables for block and transaction processing.
var (
	ErrKnownBlock       = errors.New("block already known")
	ErrUnknownParent    = errors.New("parent block unknown")
	ErrInvalidBlock     = errors.New("invalid block")
	ErrNotEligible      = errors.New("generator not eligible to forge the block")
	ErrNotForgingTime   = errors.New("forging time not reached")
	ErrNoForgingPower   = errors.New("forger has no forging power")
	ErrWrongChain       = errors.New("transaction belongs to another chain")
	ErrKnownTransaction = errors.New("transaction already pending")
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for forging, peer updates, and transaction
// sharing.
type Worker interface {
	Shutdown()
	SignalStartForging()
	SignalCancelForging() (done func())
	SignalShareTx(txs []database.SignedTx, from peer.NodeID)
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	ForgerKey      *ecdsa.PrivateKey
	Host           string
	Genesis        genesis.Genesis
	Storage        database.KeyValueStore
	SelectStrategy string
	TxsPerBlock    int
	KnownHosts     *peer.HostSet
	EvHandler      EventHandler
	Now            func() time.Time
}

// State manages the blockchain database.
type State struct {
	forgerPubKey []byte
	forgerID     database.AccountID
	nodeID       peer.NodeID
	host         string
	txsPerBlock  int
	evHandler    EventHandler
	now          func() time.Time
	mu           sync.Mutex

	knownHosts  *peer.HostSet
	genesis     genesis.Genesis
	genesisHash header.Hash
	mempool     *mempool.Mempool
	db          *database.Database

	Worker Worker
}

// New constructs a new blockchain for data management.
func New(cfg Config) (*State, error) {
	if cfg.ForgerKey == nil {
		return nil, errors.New("forger key is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	knownHosts := cfg.KnownHosts
	if knownHosts == nil {
		knownHosts = peer.NewHostSet()
	}

	txsPerBlock := int(cfg.Genesis.TransPerBlock)
	if cfg.TxsPerBlock > 0 && cfg.TxsPerBlock < txsPerBlock {
		txsPerBlock = cfg.TxsPerBlock
	}

	// Access the storage for the blockchain and replay the stored chain
	// into the ledger.
	db, err := database.New(cfg.Genesis, cfg.Storage, database.EventHandler(ev))
	if err != nil {
		return nil, err
	}

	genesisBlock, err := db.BlockByNumber(0)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("genesis block: %w", err)
	}

	// Construct a mempool with the specified sort strategy.
	mempool, err := mempool.NewWithStrategy(cfg.SelectStrategy)
	if err != nil {
		db.Close()
		return nil, err
	}

	pubKey := signature.CompressPublicKey(cfg.ForgerKey)

	state := State{
		forgerPubKey: pubKey,
		forgerID:     database.PublicKeyToAccountID(cfg.ForgerKey.PublicKey),
		nodeID:       peer.NodeID(hexutil.Encode(pubKey)),
		host:         cfg.Host,
		txsPerBlock:  txsPerBlock,
		evHandler:    ev,
		now:          now,

		knownHosts:  knownHosts,
		genesis:     cfg.Genesis,
		genesisHash: genesisBlock.Hash(),
		mempool:     mempool,
		db:          db,
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return s.db.Close()
}

// =============================================================================

// Host returns the private host this node is reachable on.
func (s *State) Host() string {
	return s.host
}

// NodeID returns the id this node announces to its peers.
func (s *State) NodeID() peer.NodeID {
	return s.nodeID
}

// ForgerID returns the account that receives the fees of forged blocks.
func (s *State) ForgerID() database.AccountID {
	return s.forgerID
}

// KnownHosts returns the set of hosts this node dials.
func (s *State) KnownHosts() *peer.HostSet {
	return s.knownHosts
}

// Status returns what this node tells its peers about itself.
func (s *State) Status() peer.Status {
	latest := s.db.LatestBlock()

	return peer.Status{
		NodeID:               s.nodeID,
		Host:                 s.host,
		ChainID:              s.genesis.ChainID,
		GenesisHash:          s.genesisHash,
		LatestHash:           latest.Hash(),
		LatestNumber:         latest.Number,
		CumulativeDifficulty: new(big.Int).Set(latest.CumulativeDifficulty),
		KnownHosts:           s.knownHosts.Copy(s.host),
	}
}
