// Package header provides the block header value, its canonical encoding
// and the header hash used to chain blocks together.
package header

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/ripemd160"
)

// Field sizes for the well formed header.
const (
	TimestampLength = 4
	HashLength      = 20
	PublicKeyLength = 33
)

// ErrDecode is wrapped by every error returned from Decode.
var ErrDecode = errors.New("header decode")

// Hash is the RIPEMD160(SHA256(encoding)) identifier of a header.
type Hash [HashLength]byte

// ZeroHash is the previous hash of the genesis header.
var ZeroHash Hash

// String implements the fmt.Stringer interface.
func (h Hash) String() string {
	return hexutil.Encode(h[:])
}

// MarshalText implements the encoding.TextMarshaler interface.
func (h Hash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (h *Hash) UnmarshalText(input []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(input); err != nil {
		return err
	}
	if len(b) != HashLength {
		return fmt.Errorf("hash must be %d bytes, got %d", HashLength, len(b))
	}
	copy(h[:], b)
	return nil
}

// ToHash converts a hex-encoded string into a header hash.
func ToHash(s string) (Hash, error) {
	var h Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// =============================================================================

// Header is the immutable part of a block that is hashed. Height is not part
// of the header; it is known only by following PrevHash into the block store.
type Header struct {
	version   uint8
	timestamp [TimestampLength]byte
	prevHash  Hash
	pubKey    []byte
}

// encHeader is the canonical field order of the RLP encoding.
type encHeader struct {
	Version            uint8
	TimeStamp          []byte
	PrevHeaderHash     []byte
	GeneratorPublicKey []byte
}

// New constructs a header from its four fields. The generator public key must
// be a compressed secp256k1 point.
func New(version uint8, timestamp uint32, prevHash Hash, pubKey []byte) (Header, error) {
	if err := checkPublicKey(pubKey); err != nil {
		return Header{}, err
	}

	h := Header{
		version:  version,
		prevHash: prevHash,
		pubKey:   append([]byte(nil), pubKey...),
	}
	binary.BigEndian.PutUint32(h.timestamp[:], timestamp)

	return h, nil
}

// Decode parses the canonical encoding of a header. The input must hold
// exactly one RLP list of exactly four well formed fields.
func Decode(data []byte) (Header, error) {
	var enc encHeader
	if err := rlp.DecodeBytes(data, &enc); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if len(enc.TimeStamp) != TimestampLength {
		return Header{}, fmt.Errorf("%w: timestamp must be %d bytes, got %d", ErrDecode, TimestampLength, len(enc.TimeStamp))
	}

	if len(enc.PrevHeaderHash) != HashLength {
		return Header{}, fmt.Errorf("%w: previous hash must be %d bytes, got %d", ErrDecode, HashLength, len(enc.PrevHeaderHash))
	}

	if err := checkPublicKey(enc.GeneratorPublicKey); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	h := Header{
		version: enc.Version,
		pubKey:  enc.GeneratorPublicKey,
	}
	copy(h.timestamp[:], enc.TimeStamp)
	copy(h.prevHash[:], enc.PrevHeaderHash)

	return h, nil
}

// Encode returns the canonical RLP encoding of the four header fields.
func (h Header) Encode() []byte {
	enc := encHeader{
		Version:            h.version,
		TimeStamp:          h.timestamp[:],
		PrevHeaderHash:     h.prevHash[:],
		GeneratorPublicKey: h.pubKey,
	}

	// Encoding a struct of byte slices and a uint8 cannot fail.
	data, err := rlp.EncodeToBytes(enc)
	if err != nil {
		panic(fmt.Sprintf("header encode: %s", err))
	}

	return data
}

// Hash returns RIPEMD160(SHA256(Encode())).
func (h Header) Hash() Hash {
	sum := sha256.Sum256(h.Encode())

	hasher := ripemd160.New()
	hasher.Write(sum[:])

	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Version returns the header version.
func (h Header) Version() uint8 {
	return h.version
}

// Timestamp returns the block time in unix seconds.
func (h Header) Timestamp() uint32 {
	return binary.BigEndian.Uint32(h.timestamp[:])
}

// PrevHash returns the hash of the parent header.
func (h Header) PrevHash() Hash {
	return h.prevHash
}

// GeneratorPublicKey returns a copy of the compressed generator key.
func (h Header) GeneratorPublicKey() []byte {
	return append([]byte(nil), h.pubKey...)
}

// IsZero reports whether the header was never constructed.
func (h Header) IsZero() bool {
	return len(h.pubKey) == 0
}

// String implements the fmt.Stringer interface for logging.
func (h Header) String() string {
	return fmt.Sprintf("version[%d] timestamp[%d] prev[%s] generator[%s]", h.version, h.Timestamp(), h.prevHash, hexutil.Encode(h.pubKey))
}

// MarshalText encodes the header as hex of its canonical encoding.
func (h Header) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h.Encode()).MarshalText()
}

// UnmarshalText decodes the hex form produced by MarshalText.
func (h *Header) UnmarshalText(input []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(input); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	hdr, err := Decode(b)
	if err != nil {
		return err
	}

	*h = hdr
	return nil
}

// =============================================================================

// checkPublicKey validates the key is a compressed point on the curve.
func checkPublicKey(pubKey []byte) error {
	if len(pubKey) != PublicKeyLength {
		return fmt.Errorf("generator public key must be %d bytes, got %d", PublicKeyLength, len(pubKey))
	}

	if _, err := crypto.DecompressPubkey(pubKey); err != nil {
		return fmt.Errorf("generator public key: %w", err)
	}

	return nil
}
