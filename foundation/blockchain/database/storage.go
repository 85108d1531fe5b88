package database

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/taucoin/taunode/foundation/blockchain/header"
	"github.com/taucoin/taunode/foundation/blockchain/pot"
)

// ErrNotFound is returned by a KeyValueStore when a key does not exist.
var ErrNotFound = errors.New("not found")

// KeyValueStore interface represents the behavior required to be implemented
// by any package providing persistence for blocks and the sync queue.
type KeyValueStore interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
	NewIterator(prefix []byte) Iterator
	Close() error
}

// Batch collects writes that are committed atomically by Write.
type Batch interface {
	Put(key []byte, value []byte)
	Delete(key []byte)
	Write() error
}

// Iterator walks the keys with a given prefix in ascending order. Key and
// Value are only valid until the next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// =============================================================================

// Key prefixes of the block store.
var (
	blockPrefix  = []byte("blk-")
	numberPrefix = []byte("num-")
	headKey      = []byte("head")
)

// BlockStore keeps every known block keyed by hash plus the index of the
// canonical chain from height to hash.
type BlockStore struct {
	kv KeyValueStore
}

// NewBlockStore constructs a block store over the key value store.
func NewBlockStore(kv KeyValueStore) *BlockStore {
	return &BlockStore{kv: kv}
}

// Put stores the block under its hash. It does not change the canonical chain.
func (bs *BlockStore) Put(block Block) error {
	data, err := json.Marshal(NewBlockData(block))
	if err != nil {
		return err
	}

	hash := block.Hash()
	return bs.kv.Put(blockKey(hash), data)
}

// Get returns the block with the specified hash.
func (bs *BlockStore) Get(hash header.Hash) (Block, error) {
	data, err := bs.kv.Get(blockKey(hash))
	if err != nil {
		return Block{}, fmt.Errorf("block %s: %w", hash, err)
	}

	var bd BlockData
	if err := json.Unmarshal(data, &bd); err != nil {
		return Block{}, fmt.Errorf("block %s: %w", hash, err)
	}

	return ToBlock(bd)
}

// Has reports whether a block with the hash is stored.
func (bs *BlockStore) Has(hash header.Hash) bool {
	exists, err := bs.kv.Has(blockKey(hash))
	return err == nil && exists
}

// CanonicalHash returns the hash of the canonical block at the height.
func (bs *BlockStore) CanonicalHash(number uint64) (header.Hash, error) {
	data, err := bs.kv.Get(numberKey(number))
	if err != nil {
		return header.Hash{}, fmt.Errorf("canonical %d: %w", number, err)
	}

	var hash header.Hash
	copy(hash[:], data)
	return hash, nil
}

// GetByNumber returns the canonical block at the height.
func (bs *BlockStore) GetByNumber(number uint64) (Block, error) {
	hash, err := bs.CanonicalHash(number)
	if err != nil {
		return Block{}, err
	}
	return bs.Get(hash)
}

// Head returns the hash of the tip of the canonical chain.
func (bs *BlockStore) Head() (header.Hash, error) {
	data, err := bs.kv.Get(headKey)
	if err != nil {
		return header.Hash{}, fmt.Errorf("head: %w", err)
	}

	var hash header.Hash
	copy(hash[:], data)
	return hash, nil
}

// SetCanonical makes blocks, ordered parent first, the canonical chain from
// the first block's height up. Heights above the last block up to oldHead are
// removed from the index. The update is atomic.
func (bs *BlockStore) SetCanonical(blocks []Block, oldHead uint64) error {
	if len(blocks) == 0 {
		return nil
	}

	batch := bs.kv.NewBatch()

	for _, block := range blocks {
		hash := block.Hash()
		batch.Put(numberKey(block.Number), hash[:])
	}

	tip := blocks[len(blocks)-1]
	for n := tip.Number + 1; n <= oldHead; n++ {
		batch.Delete(numberKey(n))
	}

	hash := tip.Hash()
	batch.Put(headKey, hash[:])

	return batch.Write()
}

// BlockInfoByNumber implements the pot.ChainReader interface over the
// canonical chain.
func (bs *BlockStore) BlockInfoByNumber(number uint64) (pot.BlockInfo, error) {
	block, err := bs.GetByNumber(number)
	if err != nil {
		return pot.BlockInfo{}, err
	}
	return block.Info(), nil
}

// =============================================================================

func blockKey(hash header.Hash) []byte {
	return append(append([]byte{}, blockPrefix...), hash[:]...)
}

func numberKey(number uint64) []byte {
	key := append([]byte{}, numberPrefix...)
	return binary.BigEndian.AppendUint64(key, number)
}
