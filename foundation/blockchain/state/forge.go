package state

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/pot"
)

// PoTInfo describes the forging position of this node on top of the tip.
type PoTInfo struct {
	LatestNumber         uint64             `json:"latest_number"`
	LatestHash           string             `json:"latest_hash"`
	BaseTarget           *big.Int           `json:"base_target"`
	CumulativeDifficulty *big.Int           `json:"cumulative_difficulty"`
	Forger               database.AccountID `json:"forger"`
	ForgingPower         uint64             `json:"forging_power"`
	Hit                  *big.Int           `json:"hit"`
	NextForgingTime      uint32             `json:"next_forging_time"`
}

// forgingPlan is what the forger needs to build the child of the tip.
type forgingPlan struct {
	parent       database.Block
	baseTarget   *big.Int
	hit          *big.Int
	forgingPower uint64
	forgingTime  uint32
}

// plan computes when this node may forge on top of the tip.
func (s *State) plan() (forgingPlan, error) {
	parent := s.db.LatestBlock()

	fp := s.db.Query(s.forgerID).ForgePower
	if fp == 0 {
		return forgingPlan{}, ErrNoForgingPower
	}

	bt, err := pot.RequiredBaseTarget(parent.Info(), ancestry{db: s.db, tip: parent})
	if err != nil {
		return forgingPlan{}, err
	}

	hit := pot.RandomHit(pot.NextGenerationSignature(parent.GenerationSignature, s.forgerPubKey))

	interval, err := pot.ForgingTimeInterval(hit, bt, fp)
	if err != nil {
		return forgingPlan{}, err
	}

	forgingTime := uint64(parent.Timestamp()) + interval
	if interval > math.MaxUint32 || forgingTime > math.MaxUint32 {
		forgingTime = math.MaxUint32
	}

	p := forgingPlan{
		parent:       parent,
		baseTarget:   bt,
		hit:          hit,
		forgingPower: fp,
		forgingTime:  uint32(forgingTime),
	}

	return p, nil
}

// NextForgingTime returns the unix second at which this node becomes
// eligible to forge on top of the current tip.
func (s *State) NextForgingTime() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.plan()
	if err != nil {
		return 0, err
	}

	return p.forgingTime, nil
}

// ForgeBlock builds the next block on top of the tip with the best pending
// transactions and adds it to the chain. It fails with ErrNotForgingTime
// until the forger is eligible.
func (s *State) ForgeBlock(ctx context.Context) (database.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evHandler("state: ForgeBlock: FORGING: compute forging time")

	p, err := s.plan()
	if err != nil {
		return database.Block{}, err
	}

	now := s.now().Unix()
	if now < int64(p.forgingTime) {
		return database.Block{}, fmt.Errorf("%w: now[%d] forging time[%d]", ErrNotForgingTime, now, p.forgingTime)
	}

	// Pick the best transactions from the mempool and drop the ones the
	// ledger would reject.
	trans := s.mempool.PickBest(s.txsPerBlock)
	valid, invalid := s.db.FilterValid(s.forgerID, trans)
	for _, tx := range invalid {
		s.evHandler("state: ForgeBlock: FORGING: dropping invalid tx[%s]", tx.Hash())
		s.mempool.Delete(tx)
	}

	block, err := database.NewBlock(p.parent, uint32(now), s.forgerPubKey, p.baseTarget, p.forgingPower, valid)
	if err != nil {
		return database.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: ForgeBlock: FORGING: validate and update database")

	if err := s.validateBlock(block, p.parent); err != nil {
		return database.Block{}, err
	}

	if err := s.db.AddBlock(block); err != nil {
		return database.Block{}, err
	}
	s.updateMempool(nil, []database.Block{block})

	s.evHandler("state: ForgeBlock: FORGING: forged %s", block)

	return block, nil
}

// PoTInfo returns the forging position of this node.
func (s *State) PoTInfo() (PoTInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := s.db.LatestBlock()

	info := PoTInfo{
		LatestNumber:         latest.Number,
		LatestHash:           latest.Hash().String(),
		BaseTarget:           latest.BaseTarget,
		CumulativeDifficulty: latest.CumulativeDifficulty,
		Forger:               s.forgerID,
	}

	p, err := s.plan()
	if err != nil {
		return info, err
	}

	info.ForgingPower = p.forgingPower
	info.Hit = p.hit
	info.NextForgingTime = p.forgingTime

	return info, nil
}
