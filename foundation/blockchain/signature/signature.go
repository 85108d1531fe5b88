// Package signature provides helper functions for signing transactions and
// recovering the account that signed them.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// tauID is added to the recovery id so signatures produced for this chain are
// never valid on chains using the usual offset of 27.
const tauID = 31

// stampPrefix is mixed into every signed digest.
var stampPrefix = []byte("\x19Tau Signed Message:\n32")

// Set of error variables for signature handling.
var (
	ErrRecoveryID      = errors.New("invalid recovery id")
	ErrSignatureValues = errors.New("invalid signature values")
)

// =============================================================================

// Hash returns the hex encoded SHA256 of the JSON form of the value.
func Hash(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ZeroHash
	}

	hash := sha256.Sum256(data)
	return hexutil.Encode(hash[:])
}

// Sign uses the specified private key to sign the value. The signature is
// returned in [R|S|V] form with tauID added to V.
func Sign(value any, privateKey *ecdsa.PrivateKey) (v, r, s *big.Int, err error) {
	digest, err := stamp(value)
	if err != nil {
		return nil, nil, nil, err
	}

	sig, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return nil, nil, nil, err
	}

	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetUint64(uint64(sig[64]) + tauID)

	return v, r, s, nil
}

// VerifySignature checks the signature values are in range.
func VerifySignature(v, r, s *big.Int) error {
	if v == nil || r == nil || s == nil {
		return ErrSignatureValues
	}

	if !v.IsUint64() || (v.Uint64() != tauID && v.Uint64() != tauID+1) {
		return ErrRecoveryID
	}

	if !crypto.ValidateSignatureValues(byte(v.Uint64()-tauID), r, s, true) {
		return ErrSignatureValues
	}

	return nil
}

// FromAddress recovers the address of the account that signed the value. The
// exact value that was signed must be provided or a different address comes
// back.
func FromAddress(value any, v, r, s *big.Int) (string, error) {
	if err := VerifySignature(v, r, s); err != nil {
		return "", err
	}

	digest, err := stamp(value)
	if err != nil {
		return "", err
	}

	publicKey, err := crypto.SigToPub(digest, ToSignatureBytes(v, r, s))
	if err != nil {
		return "", err
	}

	return crypto.PubkeyToAddress(*publicKey).String(), nil
}

// SignatureString returns the signature as a hex string keeping tauID in V.
func SignatureString(v, r, s *big.Int) string {
	sig := ToSignatureBytes(v, r, s)
	sig[64] = byte(v.Uint64())

	return hexutil.Encode(sig)
}

// ToSignatureBytes converts the r, s, v values into the 65 byte form expected
// by the crypto package.
func ToSignatureBytes(v, r, s *big.Int) []byte {
	sig := make([]byte, crypto.SignatureLength)

	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = byte(v.Uint64() - tauID)

	return sig
}

// =============================================================================

// CompressPublicKey returns the 33 byte compressed form of the key's public
// half, the form carried in block headers.
func CompressPublicKey(privateKey *ecdsa.PrivateKey) []byte {
	return crypto.CompressPubkey(&privateKey.PublicKey)
}

// AddressFromCompressed returns the account address of a compressed public key.
func AddressFromCompressed(pubKey []byte) (string, error) {
	publicKey, err := crypto.DecompressPubkey(pubKey)
	if err != nil {
		return "", fmt.Errorf("decompress: %w", err)
	}

	return crypto.PubkeyToAddress(*publicKey).String(), nil
}

// =============================================================================

// stamp returns the 32 byte digest that gets signed for a value.
func stamp(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return crypto.Keccak256(stampPrefix, crypto.Keccak256(data)), nil
}
