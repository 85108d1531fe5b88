// Package leveldb implements the database.KeyValueStore interface on top of
// goleveldb. It persists blocks and the sync retrieval queue.
package leveldb

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/taucoin/taunode/foundation/blockchain/database"
)

// LevelDB represents a key value store held in a leveldb directory.
type LevelDB struct {
	db *leveldb.DB
}

// New opens or creates the leveldb database at the path.
func New(dbPath string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dbPath, err)
	}

	return &LevelDB{db: db}, nil
}

// Close closes the database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// Get retrieves a value by key.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, database.ErrNotFound
	}
	return value, err
}

// Has checks if a key exists.
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

// Put stores a key value pair.
func (l *LevelDB) Put(key []byte, value []byte) error {
	return l.db.Put(key, value, nil)
}

// Delete removes a key value pair.
func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

// NewBatch returns a batch for atomic updates.
func (l *LevelDB) NewBatch() database.Batch {
	return &batch{
		db:    l.db,
		batch: new(leveldb.Batch),
	}
}

// NewIterator returns an iterator over the keys with the prefix.
func (l *LevelDB) NewIterator(prefix []byte) database.Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

// =============================================================================

// batch adapts a leveldb batch to the database.Batch interface.
type batch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *batch) Put(key []byte, value []byte) {
	b.batch.Put(key, value)
}

func (b *batch) Delete(key []byte) {
	b.batch.Delete(key)
}

func (b *batch) Write() error {
	return b.db.Write(b.batch, &opt.WriteOptions{Sync: true})
}
