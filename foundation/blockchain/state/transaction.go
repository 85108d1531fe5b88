package state

import (
	"errors"
	"fmt"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/peer"
)

// SubmitWalletTransaction accepts a transaction from a wallet for inclusion.
func (s *State) SubmitWalletTransaction(signedTx database.SignedTx) error {
	if err := s.admitTransaction(signedTx); err != nil {
		return err
	}

	s.evHandler("state: SubmitWalletTransaction: accepted tx[%s]", signedTx.Hash())

	// Send this transaction to the network.
	if s.Worker != nil {
		s.Worker.SignalShareTx([]database.SignedTx{signedTx}, "")
	}

	return nil
}

// SubmitPeerTransactions accepts transactions flooded by a peer. The new
// ones are shared with every other peer. It returns how many were new.
func (s *State) SubmitPeerTransactions(txs []database.SignedTx, from peer.NodeID) (int, error) {
	var accepted []database.SignedTx
	var errs []error

	for _, tx := range txs {
		err := s.admitTransaction(tx)
		switch {
		case err == nil:
			accepted = append(accepted, tx)

		case errors.Is(err, ErrKnownTransaction):
			// Floods overlap, nothing to report.

		default:
			errs = append(errs, fmt.Errorf("tx[%s]: %w", tx.Hash(), err))
		}
	}

	s.evHandler("state: SubmitPeerTransactions: from[%s] received[%d] accepted[%d]", from, len(txs), len(accepted))

	if len(accepted) > 0 && s.Worker != nil {
		s.Worker.SignalShareTx(accepted, from)
	}

	return len(accepted), errors.Join(errs...)
}

// admitTransaction checks the transaction against the chain and the ledger
// and adds it to the mempool.
func (s *State) admitTransaction(signedTx database.SignedTx) error {
	if signedTx.ChainID != s.genesis.ChainID {
		return fmt.Errorf("%w: chain id %d", ErrWrongChain, signedTx.ChainID)
	}

	if err := signedTx.Validate(); err != nil {
		return err
	}

	if err := s.db.Validate(signedTx.Tx); err != nil {
		return err
	}

	if !s.mempool.Upsert(signedTx) {
		return ErrKnownTransaction
	}

	return nil
}
