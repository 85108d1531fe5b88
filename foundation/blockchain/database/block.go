package database

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/taunode/foundation/blockchain/genesis"
	"github.com/taucoin/taunode/foundation/blockchain/header"
	"github.com/taucoin/taunode/foundation/blockchain/pot"
	"github.com/taucoin/taunode/foundation/blockchain/signature"
)

// HeaderVersion is the only header version this node produces and accepts.
const HeaderVersion = 1

// Block represents a header with the consensus values and the transactions
// forged into it.
type Block struct {
	Header               header.Header
	BaseTarget           *big.Int
	CumulativeDifficulty *big.Int
	GenerationSignature  [32]byte
	ForgingPower         uint64
	Trans                []SignedTx

	// Number is the height of the block. It is not part of the header and is
	// assigned from the parent when the block is stored.
	Number uint64
}

// NewBlock constructs a block on top of parent for the generator key. The
// consensus values are derived from the parent and the base target.
func NewBlock(parent Block, timestamp uint32, pubKey []byte, baseTarget *big.Int, forgingPower uint64, trans []SignedTx) (Block, error) {
	hdr, err := header.New(HeaderVersion, timestamp, parent.Hash(), pubKey)
	if err != nil {
		return Block{}, err
	}

	cd, err := pot.CumulativeDifficulty(parent.CumulativeDifficulty, baseTarget)
	if err != nil {
		return Block{}, err
	}

	block := Block{
		Header:               hdr,
		BaseTarget:           new(big.Int).Set(baseTarget),
		CumulativeDifficulty: cd,
		GenerationSignature:  pot.NextGenerationSignature(parent.GenerationSignature, pubKey),
		ForgingPower:         forgingPower,
		Trans:                trans,
		Number:               parent.Number + 1,
	}

	return block, nil
}

// GenesisBlock constructs block zero from the genesis file.
func GenesisBlock(g genesis.Genesis) (Block, error) {
	if err := g.Validate(); err != nil {
		return Block{}, err
	}

	hdr, err := header.New(HeaderVersion, g.Timestamp, header.ZeroHash, g.GeneratorPublicKey)
	if err != nil {
		return Block{}, fmt.Errorf("genesis header: %w", err)
	}

	bt := new(big.Int).Set(pot.GenesisBaseTarget)
	cd, err := pot.CumulativeDifficulty(nil, bt)
	if err != nil {
		return Block{}, err
	}

	block := Block{
		Header:               hdr,
		BaseTarget:           bt,
		CumulativeDifficulty: cd,
	}
	copy(block.GenerationSignature[:], g.GenerationSignature)

	return block, nil
}

// Hash returns the header hash of the block.
func (b Block) Hash() header.Hash {
	return b.Header.Hash()
}

// Timestamp returns the header timestamp.
func (b Block) Timestamp() uint32 {
	return b.Header.Timestamp()
}

// Info returns what the retargeting rule needs of this block.
func (b Block) Info() pot.BlockInfo {
	return pot.BlockInfo{
		Number:     b.Number,
		Timestamp:  b.Timestamp(),
		BaseTarget: b.BaseTarget,
	}
}

// Coinbase returns the account of the generator, which receives the fees.
func (b Block) Coinbase() (AccountID, error) {
	address, err := signature.AddressFromCompressed(b.Header.GeneratorPublicKey())
	if err != nil {
		return "", err
	}
	return AccountID(address), nil
}

// String implements the fmt.Stringer interface for logging.
func (b Block) String() string {
	return fmt.Sprintf("blk[%d] hash[%s] trans[%d]", b.Number, b.Hash(), len(b.Trans))
}

// =============================================================================

// BlockData represents what is written to the block store and sent to peers.
type BlockData struct {
	Number               uint64        `json:"number"`
	Hash                 header.Hash   `json:"hash"`
	Header               header.Header `json:"header"`
	BaseTarget           *hexutil.Big  `json:"base_target"`
	CumulativeDifficulty *hexutil.Big  `json:"cumulative_difficulty"`
	GenerationSignature  hexutil.Bytes `json:"generation_signature"`
	ForgingPower         uint64        `json:"forging_power"`
	Trans                []SignedTx    `json:"trans"`
}

// NewBlockData constructs the value to serialize.
func NewBlockData(block Block) BlockData {
	trans := block.Trans
	if trans == nil {
		trans = []SignedTx{}
	}

	return BlockData{
		Number:               block.Number,
		Hash:                 block.Hash(),
		Header:               block.Header,
		BaseTarget:           (*hexutil.Big)(block.BaseTarget),
		CumulativeDifficulty: (*hexutil.Big)(block.CumulativeDifficulty),
		GenerationSignature:  block.GenerationSignature[:],
		ForgingPower:         block.ForgingPower,
		Trans:                trans,
	}
}

// ToBlock converts BlockData into a Block, checking the fields a block can
// not exist without.
func ToBlock(bd BlockData) (Block, error) {
	if bd.Header.IsZero() {
		return Block{}, errors.New("block data: missing header")
	}

	if bd.BaseTarget == nil || bd.BaseTarget.ToInt().Sign() <= 0 {
		return Block{}, fmt.Errorf("block data: %w", pot.ErrInvalidBaseTarget)
	}

	if bd.CumulativeDifficulty == nil {
		return Block{}, errors.New("block data: missing cumulative difficulty")
	}

	if len(bd.GenerationSignature) != 32 {
		return Block{}, fmt.Errorf("block data: generation signature must be 32 bytes, got %d", len(bd.GenerationSignature))
	}

	if bd.Hash != header.ZeroHash && bd.Hash != bd.Header.Hash() {
		return Block{}, fmt.Errorf("block data: hash %s does not match header %s", bd.Hash, bd.Header.Hash())
	}

	block := Block{
		Header:               bd.Header,
		BaseTarget:           new(big.Int).Set(bd.BaseTarget.ToInt()),
		CumulativeDifficulty: new(big.Int).Set(bd.CumulativeDifficulty.ToInt()),
		ForgingPower:         bd.ForgingPower,
		Trans:                bd.Trans,
		Number:               bd.Number,
	}
	copy(block.GenerationSignature[:], bd.GenerationSignature)

	return block, nil
}
