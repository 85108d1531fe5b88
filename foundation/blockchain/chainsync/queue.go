package chainsync

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/header"
)

// Key prefixes of the retrieval queue.
var (
	hashPrefix  = []byte("sync-hash-")
	blockPrefix = []byte("sync-blk-")
)

// fifo tracks the sequence numbers of one persisted list. Entries live at
// [head, tail).
type fifo struct {
	prefix []byte
	head   uint64
	tail   uint64
}

func (f *fifo) key(seq uint64) []byte {
	key := make([]byte, len(f.prefix)+8)
	copy(key, f.prefix)
	binary.BigEndian.PutUint64(key[len(f.prefix):], seq)
	return key
}

func (f *fifo) count() int {
	return int(f.tail - f.head)
}

// load finds the bounds of the list already in the store.
func (f *fifo) load(kv database.KeyValueStore) error {
	iter := kv.NewIterator(f.prefix)
	defer iter.Release()

	first := true
	for iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, f.prefix) || len(key) != len(f.prefix)+8 {
			continue
		}

		seq := binary.BigEndian.Uint64(key[len(f.prefix):])
		if first {
			f.head = seq
			first = false
		}
		f.tail = seq + 1
	}

	return iter.Error()
}

// =============================================================================

// Queue is the persisted retrieval queue. It holds the block hashes still to
// fetch and the solid blocks, which are fetched but not yet connected to
// the chain. Both survive a restart.
type Queue struct {
	mu     sync.Mutex
	kv     database.KeyValueStore
	hashes fifo
	blocks fifo
}

// NewQueue opens the queue held in the store.
func NewQueue(kv database.KeyValueStore) (*Queue, error) {
	q := Queue{
		kv:     kv,
		hashes: fifo{prefix: hashPrefix},
		blocks: fifo{prefix: blockPrefix},
	}

	if err := q.hashes.load(kv); err != nil {
		return nil, fmt.Errorf("load hashes: %w", err)
	}

	if err := q.blocks.load(kv); err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}

	return &q, nil
}

// AddHashes appends block hashes to fetch.
func (q *Queue) AddHashes(hashes []header.Hash) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.kv.NewBatch()
	for i, hash := range hashes {
		batch.Put(q.hashes.key(q.hashes.tail+uint64(i)), hash[:])
	}

	if err := batch.Write(); err != nil {
		return err
	}
	q.hashes.tail += uint64(len(hashes))

	return nil
}

// PollHashes removes and returns up to n hashes, oldest first.
func (q *Queue) PollHashes(n int) ([]header.Hash, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n = min(n, q.hashes.count())

	hashes := make([]header.Hash, 0, n)
	batch := q.kv.NewBatch()
	for i := 0; i < n; i++ {
		key := q.hashes.key(q.hashes.head + uint64(i))

		data, err := q.kv.Get(key)
		if err != nil {
			return nil, err
		}
		if len(data) != header.HashLength {
			return nil, fmt.Errorf("queued hash has %d bytes", len(data))
		}

		var hash header.Hash
		copy(hash[:], data)
		hashes = append(hashes, hash)
		batch.Delete(key)
	}

	if err := batch.Write(); err != nil {
		return nil, err
	}
	q.hashes.head += uint64(n)

	return hashes, nil
}

// AddBlocks appends solid blocks.
func (q *Queue) AddBlocks(blocks []database.Block) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.kv.NewBatch()
	for i, block := range blocks {
		data, err := json.Marshal(database.NewBlockData(block))
		if err != nil {
			return err
		}
		batch.Put(q.blocks.key(q.blocks.tail+uint64(i)), data)
	}

	if err := batch.Write(); err != nil {
		return err
	}
	q.blocks.tail += uint64(len(blocks))

	return nil
}

// PollBlocks removes and returns up to n solid blocks, oldest first.
func (q *Queue) PollBlocks(n int) ([]database.Block, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n = min(n, q.blocks.count())

	blocks := make([]database.Block, 0, n)
	batch := q.kv.NewBatch()
	for i := 0; i < n; i++ {
		key := q.blocks.key(q.blocks.head + uint64(i))

		data, err := q.kv.Get(key)
		if err != nil {
			return nil, err
		}

		var bd database.BlockData
		if err := json.Unmarshal(data, &bd); err != nil {
			return nil, err
		}

		block, err := database.ToBlock(bd)
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, block)
		batch.Delete(key)
	}

	if err := batch.Write(); err != nil {
		return nil, err
	}
	q.blocks.head += uint64(n)

	return blocks, nil
}

// HasSolidBlocks reports whether fetched blocks are waiting to be connected.
func (q *Queue) HasSolidBlocks() bool {
	return q.BlockCount() > 0
}

// HashCount returns the number of hashes waiting to be fetched.
func (q *Queue) HashCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.hashes.count()
}

// BlockCount returns the number of solid blocks.
func (q *Queue) BlockCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.blocks.count()
}

// Clear drops everything in the queue.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.kv.NewBatch()
	for _, f := range []*fifo{&q.hashes, &q.blocks} {
		for seq := f.head; seq < f.tail; seq++ {
			batch.Delete(f.key(seq))
		}
	}

	if err := batch.Write(); err != nil {
		return err
	}

	q.hashes.head, q.hashes.tail = 0, 0
	q.blocks.head, q.blocks.tail = 0, 0

	return nil
}
