package database

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account represents information stored in the database for an individual
// account. Balance never goes negative. ForgePower counts the transactions the
// account has sent and weighs its chance to forge.
type Account struct {
	AccountID  AccountID `json:"account"`
	Balance    uint64    `json:"balance"`
	ForgePower uint64    `json:"forge_power"`
}

// =============================================================================

// AccountID represents an account id that is used to sign transactions and is
// associated with transactions on the blockchain. It is always kept in its
// EIP-55 checksum form so map lookups are case safe.
type AccountID string

// ToAccountID converts a hex-encoded string to an account and validates the
// hex-encoded string is formatted correctly.
func ToAccountID(hex string) (AccountID, error) {
	if !common.IsHexAddress(hex) {
		return "", errors.New("invalid account format")
	}

	return AccountID(common.HexToAddress(hex).Hex()), nil
}

// PublicKeyToAccountID converts the public key to an account value.
func PublicKeyToAccountID(pk ecdsa.PublicKey) AccountID {
	return AccountID(crypto.PubkeyToAddress(pk).Hex())
}

// IsAccountID verifies whether the underlying data represents a valid
// hex-encoded account.
func (a AccountID) IsAccountID() bool {
	return common.IsHexAddress(string(a))
}
