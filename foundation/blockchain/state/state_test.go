package state_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/database/storage/memory"
	"github.com/taucoin/taunode/foundation/blockchain/genesis"
	"github.com/taucoin/taunode/foundation/blockchain/header"
	"github.com/taucoin/taunode/foundation/blockchain/peer"
	"github.com/taucoin/taunode/foundation/blockchain/signature"
	"github.com/taucoin/taunode/foundation/blockchain/state"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pavelKey  = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	miner1Key = "0000000000000000000000000000000000000000000000000000000000000001"
	miner2Key = "0000000000000000000000000000000000000000000000000000000000000002"

	pavel  = database.AccountID("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	miner1 = database.AccountID("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	miner2 = database.AccountID("0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF")
	bill   = database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")

	startBalance = 1_000_000
	startPower   = 100
)

// =============================================================================

func Test_SubmitAndForge(t *testing.T) {
	t.Log("Given the need to accept wallet transactions and forge them into a block.")
	{
		clock := newClock(genesisTimestamp)
		s, w := newState(t, miner1Key, clock)

		tx := newTx(t, 1, 100, 10, 1)

		t.Logf("\tTest 0:\tWhen submitting a valid transaction.")
		{
			if err := s.SubmitWalletTransaction(tx); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to submit the transaction: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to submit the transaction.", success)

			if s.QueryMempoolLength() != 1 || w.sharedCount() != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould have one pending and shared transaction: pending[%d] shared[%d]", failed, s.QueryMempoolLength(), w.sharedCount())
			}
			t.Logf("\t%s\tTest 0:\tShould have one pending and shared transaction.", success)

			if err := s.SubmitWalletTransaction(tx); !errors.Is(err, state.ErrKnownTransaction) {
				t.Fatalf("\t%s\tTest 0:\tShould reject the same transaction twice: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject the same transaction twice.", success)
		}

		t.Logf("\tTest 1:\tWhen submitting invalid transactions.")
		{
			if err := s.SubmitWalletTransaction(newTx(t, 2, 100, 10, 2)); !errors.Is(err, state.ErrWrongChain) {
				t.Fatalf("\t%s\tTest 1:\tShould reject a transaction of another chain: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a transaction of another chain.", success)

			if err := s.SubmitWalletTransaction(newTx(t, 1, startBalance, 1, 3)); !errors.Is(err, database.ErrInsufficientBalance) {
				t.Fatalf("\t%s\tTest 1:\tShould reject a transaction the sender can not pay: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a transaction the sender can not pay.", success)
		}

		t.Logf("\tTest 2:\tWhen forging a block.")
		{
			next, err := s.NextForgingTime()
			if err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould be able to compute the forging time: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould be able to compute the forging time.", success)

			clock.set(next - 1)
			if _, err := s.ForgeBlock(context.Background()); !errors.Is(err, state.ErrNotForgingTime) {
				t.Fatalf("\t%s\tTest 2:\tShould not forge before the forging time: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould not forge before the forging time.", success)

			clock.set(next)
			block, err := s.ForgeBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould forge at the forging time: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould forge at the forging time.", success)

			if block.Number != 1 || len(block.Trans) != 1 || s.LatestBlock().Hash() != block.Hash() {
				t.Fatalf("\t%s\tTest 2:\tShould make the block the tip with the transaction: %s", failed, block)
			}
			t.Logf("\t%s\tTest 2:\tShould make the block the tip with the transaction.", success)

			if s.QueryMempoolLength() != 0 {
				t.Fatalf("\t%s\tTest 2:\tShould empty the mempool: %d", failed, s.QueryMempoolLength())
			}
			t.Logf("\t%s\tTest 2:\tShould empty the mempool.", success)

			sender, _ := s.QueryAccount(pavel)
			forger, _ := s.QueryAccount(miner1)
			if sender.Balance != startBalance-110 || sender.ForgePower != startPower+1 || forger.Balance != startBalance+10 {
				t.Fatalf("\t%s\tTest 2:\tShould apply the transaction: sender[%+v] forger[%+v]", failed, sender, forger)
			}
			t.Logf("\t%s\tTest 2:\tShould apply the transaction.", success)
		}
	}
}

func Test_ProcessProposedBlock(t *testing.T) {
	t.Log("Given the need to validate blocks forged by another node.")
	{
		clock := newClock(genesisTimestamp)
		forger, _ := newState(t, miner1Key, clock)
		s, w := newState(t, miner2Key, clock)

		block := forge(t, forger, clock)

		t.Logf("\tTest 0:\tWhen the block extends the tip.")
		{
			if err := s.ProcessProposedBlock(block); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the block.", success)

			if s.LatestBlock().Hash() != block.Hash() || s.LatestBlock().Number != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould make the block the tip: %s", failed, s.LatestBlock())
			}
			t.Logf("\t%s\tTest 0:\tShould make the block the tip.", success)

			if w.startCount() != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould restart the forging: %d", failed, w.startCount())
			}
			t.Logf("\t%s\tTest 0:\tShould restart the forging.", success)

			if err := s.ProcessProposedBlock(block); !errors.Is(err, state.ErrKnownBlock) {
				t.Fatalf("\t%s\tTest 0:\tShould report a known block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould report a known block.", success)
		}

		t.Logf("\tTest 1:\tWhen the block breaks the rules.")
		{
			pk, _ := crypto.HexToECDSA(miner1Key)
			pubKey := signature.CompressPublicKey(pk)
			parent := s.LatestBlock()

			early, err := database.NewBlock(parent, parent.Timestamp(), pubKey, parent.BaseTarget, startPower, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to construct the block: %v", failed, err)
			}

			orphan, err := database.NewBlock(early, early.Timestamp()+1, pubKey, parent.BaseTarget, startPower, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to construct the block: %v", failed, err)
			}
			if err := s.ProcessProposedBlock(orphan); !errors.Is(err, state.ErrUnknownParent) {
				t.Fatalf("\t%s\tTest 1:\tShould reject a block with an unknown parent: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a block with an unknown parent.", success)

			if err := s.ProcessProposedBlock(early); !errors.Is(err, state.ErrInvalidBlock) {
				t.Fatalf("\t%s\tTest 1:\tShould reject a block not after its parent: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a block not after its parent.", success)

			future, err := database.NewBlock(parent, uint32(clock.now().Unix())+60, pubKey, parent.BaseTarget, startPower, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to construct the block: %v", failed, err)
			}
			if err := s.ProcessProposedBlock(future); !errors.Is(err, state.ErrInvalidBlock) {
				t.Fatalf("\t%s\tTest 1:\tShould reject a block from the future: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a block from the future.", success)

			wrongTarget, err := database.NewBlock(parent, parent.Timestamp()+1000, pubKey, big.NewInt(1), startPower, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to construct the block: %v", failed, err)
			}
			clock.set(parent.Timestamp() + 1000)
			if err := s.ProcessProposedBlock(wrongTarget); !errors.Is(err, state.ErrInvalidBlock) {
				t.Fatalf("\t%s\tTest 1:\tShould reject a block with the wrong base target: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a block with the wrong base target.", success)

			if s.LatestBlock().Hash() != block.Hash() {
				t.Fatalf("\t%s\tTest 1:\tShould leave the tip unchanged: %s", failed, s.LatestBlock())
			}
			t.Logf("\t%s\tTest 1:\tShould leave the tip unchanged.", success)
		}
	}
}

func Test_ReplayedTransactions(t *testing.T) {
	t.Log("Given the need to apply a signed transaction only once.")
	{
		clock := newClock(genesisTimestamp)
		forger, _ := newState(t, miner1Key, clock)
		s, _ := newState(t, miner2Key, clock)

		tx := newTx(t, 1, 100, 10, 1)

		t.Logf("\tTest 0:\tWhen a proposed block repeats a transaction.")
		{
			if err := forger.SubmitWalletTransaction(tx); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to submit the transaction: %v", failed, err)
			}
			block := forge(t, forger, clock)

			repeated := block
			repeated.Trans = []database.SignedTx{tx, tx}
			if err := s.ProcessProposedBlock(repeated); !errors.Is(err, state.ErrInvalidBlock) {
				t.Fatalf("\t%s\tTest 0:\tShould reject the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject the block.", success)

			if err := s.ProcessProposedBlock(block); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the block as forged: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the block as forged.", success)
		}

		t.Logf("\tTest 1:\tWhen a mined transaction is submitted again.")
		{
			if err := forger.SubmitWalletTransaction(tx); !errors.Is(err, database.ErrDuplicateTransaction) {
				t.Fatalf("\t%s\tTest 1:\tShould reject it from a wallet: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject it from a wallet.", success)

			accepted, err := forger.SubmitPeerTransactions([]database.SignedTx{tx}, "0x02aa")
			if accepted != 0 || !errors.Is(err, database.ErrDuplicateTransaction) {
				t.Fatalf("\t%s\tTest 1:\tShould reject it from a peer: accepted[%d] %v", failed, accepted, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject it from a peer.", success)

			if forger.QueryMempoolLength() != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould keep it out of the mempool: %d", failed, forger.QueryMempoolLength())
			}
			t.Logf("\t%s\tTest 1:\tShould keep it out of the mempool.", success)
		}

		t.Logf("\tTest 2:\tWhen a proposed block replays a mined transaction.")
		{
			block := forge(t, forger, clock)
			if len(block.Trans) != 0 {
				t.Fatalf("\t%s\tTest 2:\tShould forge an empty block: %d", failed, len(block.Trans))
			}

			replay := block
			replay.Trans = []database.SignedTx{tx}
			err := s.ProcessProposedBlock(replay)
			if !errors.Is(err, state.ErrInvalidBlock) || !errors.Is(err, database.ErrDuplicateTransaction) {
				t.Fatalf("\t%s\tTest 2:\tShould reject the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould reject the block.", success)

			for _, node := range []*state.State{forger, s} {
				sender, _ := node.QueryAccount(pavel)
				if sender.Balance != startBalance-110 || sender.ForgePower != startPower+1 {
					t.Fatalf("\t%s\tTest 2:\tShould debit the sender once: %+v", failed, sender)
				}
			}
			t.Logf("\t%s\tTest 2:\tShould debit the sender once.", success)
		}
	}
}

func Test_Reorganize(t *testing.T) {
	t.Log("Given the need to switch to a branch with more cumulative difficulty.")
	{
		clock := newClock(genesisTimestamp)
		a, _ := newState(t, miner1Key, clock)
		b, _ := newState(t, miner2Key, clock)

		if err := a.SubmitWalletTransaction(newTx(t, 1, 100, 10, 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
		}

		a1 := forge(t, a, clock)
		b1 := forge(t, b, clock)
		b2 := forge(t, b, clock)

		t.Logf("\tTest 0:\tWhen a competing block has the same difficulty.")
		{
			if err := a.ProcessProposedBlock(b1); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould store the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould store the block.", success)

			if a.LatestBlock().Hash() != a1.Hash() || !a.HasBlock(b1.Hash()) {
				t.Fatalf("\t%s\tTest 0:\tShould keep the chain seen first: %s", failed, a.LatestBlock())
			}
			t.Logf("\t%s\tTest 0:\tShould keep the chain seen first.", success)
		}

		t.Logf("\tTest 1:\tWhen the competing branch becomes heavier.")
		{
			if err := a.ProcessProposedBlock(b2); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould accept the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould accept the block.", success)

			if a.LatestBlock().Hash() != b2.Hash() || a.LatestBlock().Number != 2 {
				t.Fatalf("\t%s\tTest 1:\tShould switch the tip: %s", failed, a.LatestBlock())
			}
			t.Logf("\t%s\tTest 1:\tShould switch the tip.", success)

			blocks, err := a.QueryBlocksByNumber(1, 2)
			if err != nil || len(blocks) != 2 || blocks[0].Hash() != b1.Hash() {
				t.Fatalf("\t%s\tTest 1:\tShould make the branch canonical: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould make the branch canonical.", success)

			sender, _ := a.QueryAccount(pavel)
			forger, _ := a.QueryAccount(miner1)
			if sender.Balance != startBalance || sender.ForgePower != startPower || forger.Balance != startBalance {
				t.Fatalf("\t%s\tTest 1:\tShould undo the abandoned block: sender[%+v] forger[%+v]", failed, sender, forger)
			}
			t.Logf("\t%s\tTest 1:\tShould undo the abandoned block.", success)

			if a.QueryMempoolLength() != 1 {
				t.Fatalf("\t%s\tTest 1:\tShould return the transaction to the mempool: %d", failed, a.QueryMempoolLength())
			}
			t.Logf("\t%s\tTest 1:\tShould return the transaction to the mempool.", success)
		}
	}
}

func Test_Queries(t *testing.T) {
	t.Log("Given the need to serve the chain to peers.")
	{
		clock := newClock(genesisTimestamp)
		s, _ := newState(t, miner1Key, clock)

		var blocks []database.Block
		for i := 0; i < 5; i++ {
			blocks = append(blocks, forge(t, s, clock))
		}
		tip := blocks[len(blocks)-1]

		t.Logf("\tTest 0:\tWhen asking for ancestor hashes.")
		{
			hashes, err := s.QueryAncestorHashes(tip.Hash(), 3)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to walk the chain: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to walk the chain.", success)

			exp := []header.Hash{blocks[4].Hash(), blocks[3].Hash(), blocks[2].Hash()}
			if len(hashes) != len(exp) {
				t.Fatalf("\t%s\tTest 0:\tShould return %d hashes: %d", failed, len(exp), len(hashes))
			}
			for i := range exp {
				if hashes[i] != exp[i] {
					t.Fatalf("\t%s\tTest 0:\tShould return the hashes child first: %d", failed, i)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould return the hashes child first.", success)

			all, err := s.QueryAncestorHashes(tip.Hash(), 100)
			if err != nil || len(all) != 6 {
				t.Fatalf("\t%s\tTest 0:\tShould stop at the genesis block: %d %v", failed, len(all), err)
			}
			t.Logf("\t%s\tTest 0:\tShould stop at the genesis block.", success)
		}

		t.Logf("\tTest 1:\tWhen asking for blocks and status.")
		{
			latest, err := s.QueryBlocksByNumber(state.QueryLatest, state.QueryLatest)
			if err != nil || len(latest) != 1 || latest[0].Hash() != tip.Hash() {
				t.Fatalf("\t%s\tTest 1:\tShould return the latest block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould return the latest block.", success)

			byHash := s.QueryBlocksByHash([]header.Hash{blocks[1].Hash(), {1}, blocks[0].Hash()})
			if len(byHash) != 2 || byHash[0].Hash() != blocks[1].Hash() {
				t.Fatalf("\t%s\tTest 1:\tShould return the stored blocks in order: %d", failed, len(byHash))
			}
			t.Logf("\t%s\tTest 1:\tShould return the stored blocks in order.", success)

			status := s.Status()
			if status.LatestHash != tip.Hash() || status.LatestNumber != 5 || status.CumulativeDifficulty.Cmp(tip.CumulativeDifficulty) != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould report the tip in the status: %+v", failed, status)
			}
			t.Logf("\t%s\tTest 1:\tShould report the tip in the status.", success)

			if len(status.KnownHosts) != 1 || status.KnownHosts[0] != "localhost:9180" {
				t.Fatalf("\t%s\tTest 1:\tShould share the known hosts other than its own: %v", failed, status.KnownHosts)
			}
			t.Logf("\t%s\tTest 1:\tShould share the known hosts other than its own.", success)
		}
	}
}

// =============================================================================

const genesisTimestamp = 1_600_000_000

func newGenesis() genesis.Genesis {
	pk, _ := crypto.HexToECDSA(miner1Key)

	accounts := []database.AccountID{pavel, miner1, miner2}

	gen := genesis.Genesis{
		ChainID:             1,
		TransPerBlock:       10,
		Timestamp:           genesisTimestamp,
		GeneratorPublicKey:  signature.CompressPublicKey(pk),
		GenerationSignature: make([]byte, 32),
		Balances:            make(map[string]uint64),
		ForgePowers:         make(map[string]uint64),
	}

	for _, account := range accounts {
		gen.Balances[string(account)] = startBalance
		gen.ForgePowers[string(account)] = startPower
	}

	return gen
}

func newState(t *testing.T, key string, clock *fakeClock) (*state.State, *fakeWorker) {
	pk, err := crypto.HexToECDSA(key)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the key: %v", failed, err)
	}

	s, err := state.New(state.Config{
		ForgerKey:      pk,
		Host:           "localhost:9080",
		Genesis:        newGenesis(),
		Storage:        memory.New(),
		SelectStrategy: "fee",
		KnownHosts:     peer.NewHostSet("localhost:9080", "localhost:9180"),
		Now:            clock.now,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}

	w := fakeWorker{}
	s.Worker = &w

	return s, &w
}

// forge moves the clock to the forging time of the node and forges.
func forge(t *testing.T, s *state.State, clock *fakeClock) database.Block {
	next, err := s.NextForgingTime()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to compute the forging time: %v", failed, err)
	}
	clock.advance(next)

	block, err := s.ForgeBlock(context.Background())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to forge a block: %v", failed, err)
	}

	return block
}

func newTx(t *testing.T, chainID uint16, amount int64, fee int64, ts uint64) database.SignedTx {
	pk, err := crypto.HexToECDSA(pavelKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the key: %v", failed, err)
	}

	tx, err := database.NewTx(chainID, pavel, bill, amount, fee, ts)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the transaction: %v", failed, err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}

	return signedTx
}

// =============================================================================

type fakeClock struct {
	mu sync.Mutex
	ts uint32
}

func newClock(ts uint32) *fakeClock {
	return &fakeClock{ts: ts}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return time.Unix(int64(c.ts), 0)
}

func (c *fakeClock) set(ts uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ts = ts
}

// advance moves the clock forward to ts, never back.
func (c *fakeClock) advance(ts uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ts = max(c.ts, ts)
}

type fakeWorker struct {
	mu     sync.Mutex
	shared int
	starts int
}

func (w *fakeWorker) Shutdown() {}

func (w *fakeWorker) SignalStartForging() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.starts++
}

func (w *fakeWorker) SignalCancelForging() (done func()) {
	return func() {}
}

func (w *fakeWorker) SignalShareTx(txs []database.SignedTx, from peer.NodeID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.shared += len(txs)
}

func (w *fakeWorker) sharedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.shared
}

func (w *fakeWorker) startCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.starts
}
