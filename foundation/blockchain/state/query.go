package state

import (
	"errors"
	"fmt"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/genesis"
	"github.com/taucoin/taunode/foundation/blockchain/header"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// ErrNotFound is returned when a queried value does not exist.
var ErrNotFound = errors.New("not found")

// =============================================================================

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// LatestBlock returns the tip of the canonical chain.
func (s *State) LatestBlock() database.Block {
	return s.db.LatestBlock()
}

// HasBlock reports whether the block is stored, canonical or not.
func (s *State) HasBlock(hash header.Hash) bool {
	return s.db.HasBlock(hash)
}

// PendingTransactions returns a copy of the mempool in selection order.
func (s *State) PendingTransactions() []database.SignedTx {
	return s.mempool.Copy()
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryAccount returns a copy of the account from the database.
func (s *State) QueryAccount(accountID database.AccountID) (database.Account, error) {
	accounts := s.db.CopyAccounts()

	if account, exists := accounts[accountID]; exists {
		return account, nil
	}

	return database.Account{}, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
}

// QueryAccounts returns every account ordered by id.
func (s *State) QueryAccounts() []database.Account {
	return s.db.SortedAccounts()
}

// QueryBlocksByNumber returns the canonical blocks from one number to
// another, both included.
func (s *State) QueryBlocksByNumber(from uint64, to uint64) ([]database.Block, error) {
	latest := s.db.LatestBlock().Number

	if from == QueryLatest {
		from = latest
	}
	if to == QueryLatest || to > latest {
		to = latest
	}

	var out []database.Block
	for i := from; i <= to; i++ {
		block, err := s.db.BlockByNumber(i)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		out = append(out, block)
	}

	return out, nil
}

// QueryBlocksByHash returns the stored blocks for the hashes in the same
// order. Hashes that are not stored are skipped.
func (s *State) QueryBlocksByHash(hashes []header.Hash) []database.Block {
	out := make([]database.Block, 0, len(hashes))
	for _, hash := range hashes {
		block, err := s.db.BlockByHash(hash)
		if err != nil {
			continue
		}
		out = append(out, block)
	}

	return out
}

// QueryAncestorHashes returns up to limit hashes starting at hash and
// walking to the parent, child first. The walk stops at the genesis block.
func (s *State) QueryAncestorHashes(hash header.Hash, limit int) ([]header.Hash, error) {
	block, err := s.db.BlockByHash(hash)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash, ErrNotFound)
	}

	hashes := []header.Hash{hash}
	for len(hashes) < limit && block.Header.PrevHash() != header.ZeroHash {
		block, err = s.db.BlockByHash(block.Header.PrevHash())
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, block.Hash())
	}

	return hashes, nil
}
