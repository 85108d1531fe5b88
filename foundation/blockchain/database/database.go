// Package database handles the ledger of accounts and the storage of blocks.
// The ledger is rebuilt in memory from the stored canonical chain at startup.
package database

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/taucoin/taunode/foundation/blockchain/genesis"
	"github.com/taucoin/taunode/foundation/blockchain/header"
)

// ErrGenesisMismatch is returned when the stored chain was built from a
// different genesis file.
var ErrGenesisMismatch = errors.New("stored chain does not match the genesis block")

// EventHandler defines a function that is called when events occur in the
// processing of the ledger.
type EventHandler func(v string, args ...any)

// Database manages data related to accounts who have transacted on the
// blockchain and the blocks that hold those transactions.
type Database struct {
	mu sync.RWMutex

	genesis     genesis.Genesis
	latestBlock Block
	accounts    accountSet
	mined       map[string]struct{}
	store       *BlockStore
	evHandler   EventHandler
}

// New constructs a new database, applies the account genesis information and
// replays the stored canonical chain.
func New(gen genesis.Genesis, kv KeyValueStore, evHandler EventHandler) (*Database, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	db := Database{
		genesis:   gen,
		accounts:  make(accountSet),
		mined:     make(map[string]struct{}),
		store:     NewBlockStore(kv),
		evHandler: ev,
	}

	if err := db.loadGenesisAccounts(); err != nil {
		return nil, err
	}

	genesisBlock, err := GenesisBlock(gen)
	if err != nil {
		return nil, err
	}

	head, err := db.store.Head()
	switch {
	case errors.Is(err, ErrNotFound):
		ev("database: New: writing genesis block: hash[%s]", genesisBlock.Hash())

		if err := db.store.Put(genesisBlock); err != nil {
			return nil, err
		}
		if err := db.store.SetCanonical([]Block{genesisBlock}, 0); err != nil {
			return nil, err
		}
		db.latestBlock = genesisBlock
		return &db, nil

	case err != nil:
		return nil, err
	}

	stored, err := db.store.CanonicalHash(0)
	if err != nil {
		return nil, err
	}
	if stored != genesisBlock.Hash() {
		return nil, fmt.Errorf("%w: stored[%s] genesis[%s]", ErrGenesisMismatch, stored, genesisBlock.Hash())
	}

	tip, err := db.store.Get(head)
	if err != nil {
		return nil, err
	}

	db.latestBlock = genesisBlock
	for n := uint64(1); n <= tip.Number; n++ {
		block, err := db.store.GetByNumber(n)
		if err != nil {
			return nil, err
		}

		if err := db.applyBlock(block); err != nil {
			return nil, fmt.Errorf("replay %s: %w", block, err)
		}
		db.latestBlock = block
	}

	ev("database: New: replayed chain: blk[%d] hash[%s]", db.latestBlock.Number, db.latestBlock.Hash())

	return &db, nil
}

// Close closes the underlying store.
func (db *Database) Close() error {
	return db.store.kv.Close()
}

// Genesis returns the genesis the ledger was built from.
func (db *Database) Genesis() genesis.Genesis {
	return db.genesis
}

// =============================================================================

// Query returns the account, or an empty account if it does not exist.
func (db *Database) Query(accountID AccountID) Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.accounts.get(accountID)
}

// CopyAccounts makes a copy of the current accounts in the database.
func (db *Database) CopyAccounts() map[AccountID]Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.accounts.copy()
}

// SortedAccounts returns the accounts ordered by account id.
func (db *Database) SortedAccounts() []Account {
	accounts := db.CopyAccounts()

	list := make([]Account, 0, len(accounts))
	for _, account := range accounts {
		list = append(list, account)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AccountID < list[j].AccountID })

	return list
}

// Validate checks the transaction against the current ledger. A transaction
// already on the canonical chain fails with ErrDuplicateTransaction.
func (db *Database) Validate(tx Tx) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if _, exists := db.mined[tx.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, tx.ID())
	}

	return db.accounts.validate(tx)
}

// applyTransaction validates and applies a single transaction.
func (db *Database) applyTransaction(tx Tx, coinbase AccountID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.accounts.apply(tx, coinbase)
}

// undoTransaction reverts a single transaction applied with coinbase.
func (db *Database) undoTransaction(tx Tx, coinbase AccountID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.accounts.undo(tx, coinbase)
}

// newLockedExecutor returns an executor for the transaction against this
// ledger. Each step takes the database lock on its own.
func (db *Database) newLockedExecutor(tx Tx, coinbase AccountID) *TxExecutor {
	return newTxExecutor(lockedLedger{db: db}, tx, coinbase)
}

// FilterValid runs the transactions in order against a copy of the ledger
// with coinbase as the forger. Transactions that would fail at their
// position, are already on the chain or repeat an earlier one are returned
// as invalid and skipped.
func (db *Database) FilterValid(coinbase AccountID, trans []SignedTx) (valid []SignedTx, invalid []SignedTx) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	scratch := db.accounts.copy()
	seen := make(map[string]struct{}, len(trans))

	for _, tx := range trans {
		id := tx.ID()
		_, mined := db.mined[id]
		_, repeated := seen[id]
		if mined || repeated {
			invalid = append(invalid, tx)
			continue
		}

		if err := tx.Validate(); err != nil {
			invalid = append(invalid, tx)
			continue
		}

		if err := scratch.apply(tx.Tx, coinbase); err != nil {
			invalid = append(invalid, tx)
			continue
		}

		seen[id] = struct{}{}
		valid = append(valid, tx)
	}

	return valid, invalid
}

// =============================================================================

// lockedApplyBlock applies every transaction of the block under one write
// lock. If a transaction fails the ones already applied are undone and the
// ledger is left as it was.
func (db *Database) lockedApplyBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.applyBlock(block)
}

// lockedUndoBlock reverts every transaction of the block, last first.
func (db *Database) lockedUndoBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.undoBlock(block)
}

// AddBlock applies the block to the ledger and makes it the tip of the
// canonical chain. The block must extend the current tip.
func (db *Database) AddBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if block.Header.PrevHash() != db.latestBlock.Hash() {
		return fmt.Errorf("block %s does not extend the tip %s", block.Hash(), db.latestBlock.Hash())
	}
	block.Number = db.latestBlock.Number + 1

	if err := db.applyBlock(block); err != nil {
		return err
	}

	if err := db.store.Put(block); err != nil {
		return db.rollback(block, fmt.Errorf("store block: %w", err))
	}

	if err := db.store.SetCanonical([]Block{block}, db.latestBlock.Number); err != nil {
		return db.rollback(block, fmt.Errorf("set canonical: %w", err))
	}

	db.latestBlock = block

	return nil
}

// rollback undoes a block applied by AddBlock that could not be stored. A
// failed undo is reported with the store error since the ledger no longer
// matches the chain.
func (db *Database) rollback(block Block, storeErr error) error {
	if err := db.undoBlock(block); err != nil {
		db.evHandler("database: AddBlock: ERROR: rollback %s: %s", block, err)
		return errors.Join(storeErr, fmt.Errorf("%w: rollback: %w", ErrLedgerCorrupted, err))
	}
	return storeErr
}

// SaveSideBlock stores a block that does not change the canonical chain.
func (db *Database) SaveSideBlock(block Block) error {
	return db.store.Put(block)
}

// Reorganize switches the canonical chain. The undo blocks are the current
// chain ordered tip first, down to the fork point. The apply blocks are the
// new branch ordered parent first. The ledger and the index change together
// or not at all.
func (db *Database) Reorganize(undo []Block, apply []Block) error {
	if len(apply) == 0 {
		return errors.New("reorganize: nothing to apply")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if len(undo) > 0 && undo[0].Hash() != db.latestBlock.Hash() {
		return fmt.Errorf("reorganize: undo must start at the tip %s", db.latestBlock.Hash())
	}

	snapshot := db.accounts.copy()
	minedSnapshot := maps.Clone(db.mined)
	restore := func(err error) error {
		db.accounts = snapshot
		db.mined = minedSnapshot
		return fmt.Errorf("reorganize: %w", err)
	}

	for _, block := range undo {
		if err := db.undoBlock(block); err != nil {
			return restore(err)
		}
	}

	for _, block := range apply {
		if err := db.applyBlock(block); err != nil {
			return restore(err)
		}
	}

	for _, block := range apply {
		if err := db.store.Put(block); err != nil {
			return restore(err)
		}
	}

	if err := db.store.SetCanonical(apply, db.latestBlock.Number); err != nil {
		return restore(err)
	}

	db.latestBlock = apply[len(apply)-1]

	db.evHandler("database: Reorganize: undone[%d] applied[%d] tip[%s]", len(undo), len(apply), db.latestBlock)

	return nil
}

// =============================================================================

// LatestBlock returns the tip of the canonical chain.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock
}

// HasBlock reports whether the block is stored, canonical or not.
func (db *Database) HasBlock(hash header.Hash) bool {
	return db.store.Has(hash)
}

// BlockByHash returns a stored block.
func (db *Database) BlockByHash(hash header.Hash) (Block, error) {
	return db.store.Get(hash)
}

// BlockByNumber returns the canonical block at the height.
func (db *Database) BlockByNumber(number uint64) (Block, error) {
	return db.store.GetByNumber(number)
}

// IsCanonical reports whether the block is part of the canonical chain.
func (db *Database) IsCanonical(block Block) bool {
	hash, err := db.store.CanonicalHash(block.Number)
	return err == nil && hash == block.Hash()
}

// Store returns the block store.
func (db *Database) Store() *BlockStore {
	return db.store
}

// =============================================================================

// loadGenesisAccounts seeds the ledger with the genesis balances and forge
// powers.
func (db *Database) loadGenesisAccounts() error {
	for accountStr, balance := range db.genesis.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return fmt.Errorf("genesis balance %s: %w", accountStr, err)
		}

		account := db.accounts.get(accountID)
		account.Balance = balance
		db.accounts[accountID] = account
	}

	for accountStr, power := range db.genesis.ForgePowers {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return fmt.Errorf("genesis forge power %s: %w", accountStr, err)
		}

		account := db.accounts.get(accountID)
		account.ForgePower = power
		db.accounts[accountID] = account
	}

	return nil
}

// applyBlock does the work of lockedApplyBlock. The caller holds the write
// lock. A transaction can be on the canonical chain once.
func (db *Database) applyBlock(block Block) error {
	coinbase, err := block.Coinbase()
	if err != nil {
		return err
	}

	if fp := db.accounts.get(coinbase).ForgePower; fp != block.ForgingPower {
		return fmt.Errorf("%w: block[%d] account[%d]", ErrForgingPowerMismatch, block.ForgingPower, fp)
	}

	ids := make(map[string]struct{}, len(block.Trans))
	for i, tx := range block.Trans {
		id := tx.ID()
		if _, exists := db.mined[id]; exists {
			return fmt.Errorf("tx %d: %w: %s", i, ErrDuplicateTransaction, id)
		}
		if _, exists := ids[id]; exists {
			return fmt.Errorf("tx %d: %w: repeated in block: %s", i, ErrDuplicateTransaction, id)
		}
		ids[id] = struct{}{}
	}

	applied := make([]*TxExecutor, 0, len(block.Trans))
	rollback := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			if err := applied[i].Undo(); err != nil {
				db.evHandler("database: applyBlock: ERROR: rollback: %s", err)
			}
		}
	}

	for i, tx := range block.Trans {
		exec := newTxExecutor(db.accounts, tx.Tx, coinbase)

		if err := exec.Validate(); err != nil {
			rollback()
			return fmt.Errorf("tx %d: %w", i, err)
		}

		if err := exec.Apply(); err != nil {
			rollback()
			return fmt.Errorf("tx %d: %w", i, err)
		}

		applied = append(applied, exec)
	}

	for id := range ids {
		db.mined[id] = struct{}{}
	}

	return nil
}

// undoBlock does the work of lockedUndoBlock. The caller holds the write lock.
func (db *Database) undoBlock(block Block) error {
	coinbase, err := block.Coinbase()
	if err != nil {
		return err
	}

	for i := len(block.Trans) - 1; i >= 0; i-- {
		if err := db.accounts.undo(block.Trans[i].Tx, coinbase); err != nil {
			for j := i + 1; j < len(block.Trans); j++ {
				if err := db.accounts.apply(block.Trans[j].Tx, coinbase); err != nil {
					db.evHandler("database: undoBlock: ERROR: reapply tx %d: %s", j, err)
				}
			}
			return fmt.Errorf("undo tx %d: %w", i, err)
		}
	}

	for _, tx := range block.Trans {
		delete(db.mined, tx.ID())
	}

	return nil
}

// =============================================================================

// lockedLedger takes the database lock around every ledger step.
type lockedLedger struct {
	db *Database
}

func (l lockedLedger) validate(tx Tx) error {
	return l.db.Validate(tx)
}

func (l lockedLedger) apply(tx Tx, coinbase AccountID) error {
	return l.db.applyTransaction(tx, coinbase)
}

func (l lockedLedger) undo(tx Tx, coinbase AccountID) error {
	return l.db.undoTransaction(tx, coinbase)
}
