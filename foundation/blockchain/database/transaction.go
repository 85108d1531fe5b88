package database

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/taucoin/taunode/foundation/blockchain/signature"
)

// Tx is a plain value transfer with a fee paid to the block's forger.
// Amount and Fee are signed so that negative values can be carried and
// rejected.
type Tx struct {
	ChainID        uint16    `json:"chain_id"`  // Unique id of the chain the transaction belongs to.
	Sender         AccountID `json:"sender"`    // Account paying amount and fee.
	ReceiveAddress AccountID `json:"to"`        // Account receiving the amount.
	Amount         int64     `json:"amount"`    // Value moved to the receiver.
	Fee            int64     `json:"fee"`       // Value paid to the forger of the block.
	TimeStamp      uint64    `json:"timestamp"` // Unix seconds, set by the wallet.
}

// NewTx constructs a new transaction with both accounts in checksum form.
func NewTx(chainID uint16, sender AccountID, to AccountID, amount int64, fee int64, timeStamp uint64) (Tx, error) {
	senderID, err := ToAccountID(string(sender))
	if err != nil {
		return Tx{}, fmt.Errorf("sender: %w", err)
	}

	toID, err := ToAccountID(string(to))
	if err != nil {
		return Tx{}, fmt.Errorf("to: %w", err)
	}

	tx := Tx{
		ChainID:        chainID,
		Sender:         senderID,
		ReceiveAddress: toID,
		Amount:         amount,
		Fee:            fee,
		TimeStamp:      timeStamp,
	}

	return tx, nil
}

// ID returns the identity of the transfer without its signature. The same
// transfer signed twice has one ID.
func (tx Tx) ID() string {
	return signature.Hash(tx)
}

// Sign uses the specified private key to sign the transaction. The key must
// belong to the sender.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {
	if err := tx.checkFormat(); err != nil {
		return SignedTx{}, err
	}

	if PublicKeyToAccountID(privateKey.PublicKey) != tx.Sender {
		return SignedTx{}, errors.New("private key does not belong to the sender")
	}

	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	signedTx := SignedTx{
		Tx: tx,
		V:  v,
		R:  r,
		S:  s,
	}

	return signedTx, nil
}

// cost returns amount + fee. Callers check both are non-negative first.
func (tx Tx) cost() (uint64, error) {
	cost := uint64(tx.Amount) + uint64(tx.Fee)
	if cost < uint64(tx.Amount) {
		return 0, ErrBalanceOverflow
	}
	return cost, nil
}

// checkFormat validates the account fields.
func (tx Tx) checkFormat() error {
	if !tx.Sender.IsAccountID() {
		return errors.New("sender account is not properly formatted")
	}

	if !tx.ReceiveAddress.IsAccountID() {
		return errors.New("to account is not properly formatted")
	}

	return nil
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how wallets and
// peers provide transactions for inclusion into the blockchain.
type SignedTx struct {
	Tx
	V *big.Int `json:"v"` // Recovery identifier with the chain offset applied.
	R *big.Int `json:"r"` // First coordinate of the ECDSA signature.
	S *big.Int `json:"s"` // Second coordinate of the ECDSA signature.
}

// Validate verifies the transaction has a proper signature produced by the
// sender. Ledger rules are checked separately by the Database.
func (tx SignedTx) Validate() error {
	if err := tx.checkFormat(); err != nil {
		return err
	}

	if err := signature.VerifySignature(tx.V, tx.R, tx.S); err != nil {
		return err
	}

	from, err := tx.FromAccount()
	if err != nil {
		return err
	}

	if from != tx.Sender {
		return fmt.Errorf("signature belongs to %s, not the sender %s", from, tx.Sender)
	}

	return nil
}

// FromAccount extracts the account id that signed the transaction.
func (tx SignedTx) FromAccount() (AccountID, error) {
	address, err := signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
	if err != nil {
		return "", err
	}
	return AccountID(address), nil
}

// Hash returns the identity of the signed transaction.
func (tx SignedTx) Hash() string {
	return signature.Hash(tx)
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	return fmt.Sprintf("%s:%d:%d", tx.Sender, tx.TimeStamp, tx.Amount)
}
