// Package store provides local key-value persistence for trip history,
// driver metrics, and profile caches. Values are JSON blobs with
// last-write-wins semantics; no transactional guarantees are needed or
// provided.
package store

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.ErrNotFound

// KV is the minimal key-value contract the record layer needs.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Close() error
}

// LDB is a leveldb-backed KV.
type LDB struct {
	path string
	db   *leveldb.DB
	log  *zap.Logger
}

// NewLDB opens (creating if needed) a leveldb database at path.
func NewLDB(path string, logger *zap.Logger) (*LDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	logger.Info("opened local store", zap.String("path", path))
	return &LDB{path: path, db: db, log: logger}, nil
}

// Get retrieves the value stored under key.
func (ldb *LDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores value under key, overwriting any previous value.
func (ldb *LDB) Put(key, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Close flushes and closes the underlying database.
func (ldb *LDB) Close() error {
	return ldb.db.Close()
}

// Mem is an in-memory KV for tests.
type Mem struct {
	mu sync.RWMutex
	kv map[string][]byte
}

// NewMem creates an empty in-memory KV.
func NewMem() *Mem {
	return &Mem{kv: map[string][]byte{}}
}

func (m *Mem) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, exist := m.kv[string(key)]
	if !exist {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *Mem) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.kv[string(key)] = stored
	return nil
}

func (m *Mem) Close() error {
	return nil
}
