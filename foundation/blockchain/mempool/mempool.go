// Package mempool maintains the pending transactions of the node. It feeds
// the forging of new blocks and the transaction flood sent to new peers.
package mempool

import (
	"sync"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/mempool/selector"
)

// Mempool represents a cache of signed transactions keyed by their hash.
type Mempool struct {
	pool     map[string]database.SignedTx
	mu       sync.RWMutex
	selectFn selector.Func
}

// New constructs a new mempool using the default select strategy.
func New() (*Mempool, error) {
	return NewWithStrategy(selector.StrategyFee)
}

// NewWithStrategy constructs a new mempool with specified select strategy.
func NewWithStrategy(strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]database.SignedTx),
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Contains reports whether the transaction is already pending.
func (mp *Mempool) Contains(tx database.SignedTx) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[tx.Hash()]
	return exists
}

// Upsert adds a transaction and reports whether it was new.
func (mp *Mempool) Upsert(tx database.SignedTx) bool {
	key := tx.Hash()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	_, exists := mp.pool[key]
	mp.pool[key] = tx

	return !exists
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.SignedTx) {
	key := tx.Hash()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, key)
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.SignedTx)
}

// PickBest uses the configured select strategy to return the next set of
// transactions for the next block. A howMany of -1 returns everything.
func (mp *Mempool) PickBest(howMany int) []database.SignedTx {
	m := make(map[database.AccountID][]database.SignedTx)

	mp.mu.RLock()
	{
		for _, tx := range mp.pool {
			m[tx.Sender] = append(m[tx.Sender], tx)
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(m, howMany)
}

// Copy returns every pending transaction in the strategy order.
func (mp *Mempool) Copy() []database.SignedTx {
	return mp.PickBest(-1)
}
