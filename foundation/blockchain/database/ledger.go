package database

import (
	"errors"
	"fmt"
	"math"
)

// Set of error variables for the ledger.
var (
	ErrNegativeAmount       = errors.New("transaction amount is negative")
	ErrNegativeFee          = errors.New("transaction fee is negative")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrBalanceOverflow      = errors.New("balance overflow")
	ErrLedgerCorrupted      = errors.New("ledger cannot undo transaction")
	ErrInvalidTransition    = errors.New("invalid transaction state transition")
	ErrForgingPowerMismatch = errors.New("block forging power does not match the generator account")
	ErrDuplicateTransaction = errors.New("transaction is already on the chain")
)

// =============================================================================

// ledger is the set of account mutations the executor needs.
type ledger interface {
	validate(tx Tx) error
	apply(tx Tx, coinbase AccountID) error
	undo(tx Tx, coinbase AccountID) error
}

// accountSet is an unlocked ledger over a map of accounts. Callers hold the
// database lock.
type accountSet map[AccountID]Account

func (as accountSet) get(accountID AccountID) Account {
	account, exists := as[accountID]
	if !exists {
		account.AccountID = accountID
	}
	return account
}

// validate checks the transaction against the ledger without mutating it.
func (as accountSet) validate(tx Tx) error {
	if tx.Amount < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAmount, tx.Amount)
	}

	if tx.Fee < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeFee, tx.Fee)
	}

	cost, err := tx.cost()
	if err != nil {
		return err
	}

	if balance := as.get(tx.Sender).Balance; balance < cost {
		return fmt.Errorf("%w: require %d, balance %d", ErrInsufficientBalance, cost, balance)
	}

	return nil
}

// apply debits the sender amount+fee, credits the receiver the amount, credits
// the coinbase the fee and increments the sender's forge power. The touched
// accounts may alias each other. Nothing is written unless every step
// succeeds.
func (as accountSet) apply(tx Tx, coinbase AccountID) error {
	if err := as.validate(tx); err != nil {
		return err
	}

	cost, _ := tx.cost()
	work := make(accountSet, 3)
	read := func(id AccountID) Account {
		if account, exists := work[id]; exists {
			return account
		}
		return as.get(id)
	}

	sender := read(tx.Sender)
	sender.Balance -= cost
	if sender.ForgePower == math.MaxUint64 {
		return ErrBalanceOverflow
	}
	sender.ForgePower++
	work[tx.Sender] = sender

	to := read(tx.ReceiveAddress)
	if to.Balance > math.MaxUint64-uint64(tx.Amount) {
		return ErrBalanceOverflow
	}
	to.Balance += uint64(tx.Amount)
	work[tx.ReceiveAddress] = to

	cb := read(coinbase)
	if cb.Balance > math.MaxUint64-uint64(tx.Fee) {
		return ErrBalanceOverflow
	}
	cb.Balance += uint64(tx.Fee)
	work[coinbase] = cb

	for id, account := range work {
		as[id] = account
	}

	return nil
}

// undo is the exact inverse of apply. The steps run in reverse order so any
// aliasing between the accounts unwinds the same way it was applied.
func (as accountSet) undo(tx Tx, coinbase AccountID) error {
	if tx.Amount < 0 || tx.Fee < 0 {
		return ErrLedgerCorrupted
	}

	cost, err := tx.cost()
	if err != nil {
		return err
	}

	work := make(accountSet, 3)
	read := func(id AccountID) Account {
		if account, exists := work[id]; exists {
			return account
		}
		return as.get(id)
	}

	cb := read(coinbase)
	if cb.Balance < uint64(tx.Fee) {
		return fmt.Errorf("%w: coinbase %s", ErrLedgerCorrupted, coinbase)
	}
	cb.Balance -= uint64(tx.Fee)
	work[coinbase] = cb

	to := read(tx.ReceiveAddress)
	if to.Balance < uint64(tx.Amount) {
		return fmt.Errorf("%w: receiver %s", ErrLedgerCorrupted, tx.ReceiveAddress)
	}
	to.Balance -= uint64(tx.Amount)
	work[tx.ReceiveAddress] = to

	sender := read(tx.Sender)
	if sender.ForgePower == 0 || sender.Balance > math.MaxUint64-cost {
		return fmt.Errorf("%w: sender %s", ErrLedgerCorrupted, tx.Sender)
	}
	sender.Balance += cost
	sender.ForgePower--
	work[tx.Sender] = sender

	for id, account := range work {
		as[id] = account
	}

	return nil
}

// copy returns an independent copy of the set.
func (as accountSet) copy() accountSet {
	cpy := make(accountSet, len(as))
	for id, account := range as {
		cpy[id] = account
	}
	return cpy
}

// =============================================================================

// TxState is the lifecycle of a transaction against a ledger.
type TxState int

// Set of transaction states.
const (
	TxCreated TxState = iota
	TxValidated
	TxApplied
	TxReverted
)

// String implements the fmt.Stringer interface.
func (s TxState) String() string {
	switch s {
	case TxCreated:
		return "created"
	case TxValidated:
		return "validated"
	case TxApplied:
		return "applied"
	case TxReverted:
		return "reverted"
	}
	return fmt.Sprintf("TxState(%d)", int(s))
}

// TxExecutor moves one transaction through validate, apply and undo. Only
// Created or Reverted can be validated, only Validated can be applied and
// only Applied can be undone.
type TxExecutor struct {
	ledger   ledger
	tx       Tx
	coinbase AccountID
	state    TxState
}

func newTxExecutor(l ledger, tx Tx, coinbase AccountID) *TxExecutor {
	return &TxExecutor{
		ledger:   l,
		tx:       tx,
		coinbase: coinbase,
	}
}

// State returns the current state of the transaction.
func (e *TxExecutor) State() TxState {
	return e.state
}

// Validate checks the transaction can be applied to the ledger.
func (e *TxExecutor) Validate() error {
	if e.state != TxCreated && e.state != TxReverted {
		return fmt.Errorf("%w: validate from %s", ErrInvalidTransition, e.state)
	}

	if err := e.ledger.validate(e.tx); err != nil {
		return err
	}

	e.state = TxValidated
	return nil
}

// Apply executes the transaction against the ledger.
func (e *TxExecutor) Apply() error {
	if e.state != TxValidated {
		return fmt.Errorf("%w: apply from %s", ErrInvalidTransition, e.state)
	}

	if err := e.ledger.apply(e.tx, e.coinbase); err != nil {
		return err
	}

	e.state = TxApplied
	return nil
}

// Undo reverts an applied transaction.
func (e *TxExecutor) Undo() error {
	if e.state != TxApplied {
		return fmt.Errorf("%w: undo from %s", ErrInvalidTransition, e.state)
	}

	if err := e.ledger.undo(e.tx, e.coinbase); err != nil {
		return err
	}

	e.state = TxReverted
	return nil
}
