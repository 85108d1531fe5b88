package state

import (
	"errors"
	"fmt"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/pot"
)

// ProcessProposedBlock takes a block received from a peer or the sync, validates
// it and if that passes, adds the block to the local blockchain. A block with
// more cumulative difficulty than the tip on another branch switches the
// canonical chain. A block with less or equal difficulty is kept as a side
// block.
func (s *State) ProcessProposedBlock(block database.Block) error {
	s.evHandler("state: ProcessProposedBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.Header.PrevHash(), block.Hash(), len(block.Trans))
	defer s.evHandler("state: ProcessProposedBlock: completed: newBlk[%s]", block.Hash())

	// If the runForgingOperation function is being executed it needs to stop
	// immediately. The G executing runForgingOperation will not return from
	// the function until done is called. That allows this function to complete
	// its state changes before a new forging operation takes place.
	if s.Worker != nil {
		done := s.Worker.SignalCancelForging()
		defer func() {
			s.evHandler("state: ProcessProposedBlock: signal runForgingOperation to terminate")
			done()
		}()
	}

	changed, err := s.processBlock(block)
	if err != nil {
		return err
	}

	// The tip moved, so the forging has to start over on top of it.
	if changed && s.Worker != nil {
		s.Worker.SignalStartForging()
	}

	return nil
}

// processBlock does the work of ProcessProposedBlock and reports whether the
// canonical tip changed.
func (s *State) processBlock(block database.Block) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := block.Hash()
	if s.db.HasBlock(hash) {
		return false, ErrKnownBlock
	}

	parent, err := s.db.BlockByHash(block.Header.PrevHash())
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownParent, block.Header.PrevHash())
	}
	block.Number = parent.Number + 1

	if err := s.validateBlock(block, parent); err != nil {
		return false, err
	}

	tip := s.db.LatestBlock()

	switch {
	case parent.Hash() == tip.Hash():
		if err := s.db.AddBlock(block); err != nil {
			return false, fmt.Errorf("%w: %w", ErrInvalidBlock, err)
		}
		s.updateMempool(nil, []database.Block{block})

		s.evHandler("state: processBlock: extended chain: %s", block)
		return true, nil

	case block.CumulativeDifficulty.Cmp(tip.CumulativeDifficulty) > 0:
		undo, apply, err := s.branch(tip, block)
		if err != nil {
			return false, err
		}

		if err := s.db.Reorganize(undo, apply); err != nil {
			return false, fmt.Errorf("%w: %w", ErrInvalidBlock, err)
		}
		s.updateMempool(undo, apply)

		s.evHandler("state: processBlock: switched chain: undone[%d] applied[%d] tip[%s]", len(undo), len(apply), block)
		return true, nil
	}

	// Ties keep the chain that was seen first.
	if err := s.db.SaveSideBlock(block); err != nil {
		return false, err
	}

	s.evHandler("state: processBlock: side block: %s", block)
	return false, nil
}

// =============================================================================

// ValidateBlock checks the block against its parent. The block number is
// taken from the parent.
func (s *State) ValidateBlock(block database.Block) error {
	parent, err := s.db.BlockByHash(block.Header.PrevHash())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownParent, block.Header.PrevHash())
	}
	block.Number = parent.Number + 1

	return s.validateBlock(block, parent)
}

// validateBlock runs the consensus rules for block on top of parent. The
// ledger effects of the transactions, and whether they are already on the
// branch, are checked when the block is applied.
func (s *State) validateBlock(block database.Block, parent database.Block) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidBlock, block.Hash(), fmt.Sprintf(format, args...))
	}

	if v := block.Header.Version(); v != database.HeaderVersion {
		return invalid("version %d", v)
	}

	if block.Timestamp() <= parent.Timestamp() {
		return invalid("timestamp %d not after parent %d", block.Timestamp(), parent.Timestamp())
	}

	if limit := s.now().Add(maxClockDrift).Unix(); int64(block.Timestamp()) > limit {
		return invalid("timestamp %d is in the future", block.Timestamp())
	}

	bt, err := pot.RequiredBaseTarget(parent.Info(), ancestry{db: s.db, tip: parent})
	if err != nil {
		return invalid("base target: %s", err)
	}
	if block.BaseTarget == nil || block.BaseTarget.Cmp(bt) != 0 {
		return invalid("base target %v, required %v", block.BaseTarget, bt)
	}

	pubKey := block.Header.GeneratorPublicKey()
	if genSig := pot.NextGenerationSignature(parent.GenerationSignature, pubKey); genSig != block.GenerationSignature {
		return invalid("generation signature mismatch")
	}

	cd, err := pot.CumulativeDifficulty(parent.CumulativeDifficulty, bt)
	if err != nil {
		return invalid("cumulative difficulty: %s", err)
	}
	if block.CumulativeDifficulty == nil || block.CumulativeDifficulty.Cmp(cd) != 0 {
		return invalid("cumulative difficulty %v, required %v", block.CumulativeDifficulty, cd)
	}

	if block.ForgingPower == 0 {
		return fmt.Errorf("%w: %s: no forging power", ErrNotEligible, block.Hash())
	}

	hit := pot.RandomHit(block.GenerationSignature)
	elapsed := uint64(block.Timestamp() - parent.Timestamp())
	if !pot.Eligible(hit, bt, block.ForgingPower, elapsed) {
		return fmt.Errorf("%w: %s: hit %v elapsed %d", ErrNotEligible, block.Hash(), hit, elapsed)
	}

	if len(block.Trans) > int(s.genesis.TransPerBlock) {
		return invalid("%d transactions, limit %d", len(block.Trans), s.genesis.TransPerBlock)
	}

	seen := make(map[string]int, len(block.Trans))
	for i, tx := range block.Trans {
		if tx.ChainID != s.genesis.ChainID {
			return invalid("tx %d: %s", i, ErrWrongChain)
		}
		if j, exists := seen[tx.ID()]; exists {
			return invalid("tx %d: %s: repeats tx %d", i, database.ErrDuplicateTransaction, j)
		}
		seen[tx.ID()] = i
		if err := tx.Validate(); err != nil {
			return invalid("tx %d: %s", i, err)
		}
	}

	return nil
}

// =============================================================================

// branch walks back from block to the canonical chain. It returns the
// canonical blocks to undo, tip first, and the branch to apply, parent first.
func (s *State) branch(tip database.Block, block database.Block) (undo []database.Block, apply []database.Block, err error) {
	apply = []database.Block{block}

	fork := block
	for {
		parent, err := s.db.BlockByHash(fork.Header.PrevHash())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: branch: %w", ErrUnknownParent, err)
		}
		parent.Number = fork.Number - 1

		if s.db.IsCanonical(parent) {
			fork = parent
			break
		}

		apply = append([]database.Block{parent}, apply...)
		fork = parent
	}

	for n := tip.Number; n > fork.Number; n-- {
		block, err := s.db.BlockByNumber(n)
		if err != nil {
			return nil, nil, fmt.Errorf("branch: canonical block %d: %w", n, err)
		}
		undo = append(undo, block)
	}

	return undo, apply, nil
}

// updateMempool puts the transactions of the undone blocks back in the
// mempool and removes the ones now on the chain.
func (s *State) updateMempool(undone []database.Block, applied []database.Block) {
	for _, block := range undone {
		for _, tx := range block.Trans {
			s.mempool.Upsert(tx)
		}
	}

	for _, block := range applied {
		for _, tx := range block.Trans {
			s.mempool.Delete(tx)
		}
	}
}

// =============================================================================

// ancestry resolves heights along the branch ending at tip, which does not
// have to be the canonical chain.
type ancestry struct {
	db  *database.Database
	tip database.Block
}

// BlockInfoByNumber implements the pot.ChainReader interface.
func (a ancestry) BlockInfoByNumber(number uint64) (pot.BlockInfo, error) {
	if number > a.tip.Number {
		return pot.BlockInfo{}, fmt.Errorf("block %d above tip %d", number, a.tip.Number)
	}

	block := a.tip
	for block.Number > number {
		parent, err := a.db.BlockByHash(block.Header.PrevHash())
		if err != nil {
			return pot.BlockInfo{}, err
		}
		parent.Number = block.Number - 1
		block = parent
	}

	if block.Number != number {
		return pot.BlockInfo{}, errors.New("ancestry walk overshot")
	}

	return block.Info(), nil
}
