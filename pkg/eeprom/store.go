// Package eeprom persists small device records, standing in for the
// on-board EEPROM of the appliance.
package eeprom

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/glog"
)

// Errors.
var (
	ErrNotFound = errors.New("eeprom: key not found")
	ErrClosed   = errors.New("eeprom: closed")
)

// KV is the storage used by drivers.
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	// PutAll writes all entries or none of them.
	PutAll(entries ...Entry) error
}

// Entry is one record of a PutAll.
type Entry struct {
	Key   string
	Value []byte
}

// Store is a KV backed by badger.
type Store struct {
	db     *badger.DB
	closed atomic.Bool
}

// Open opens the store in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithSyncWrites(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("eeprom open %q: %w", dir, err)
	}
	if dir == "" {
		glog.Info("eeprom: in-memory store")
	} else {
		glog.Infof("eeprom: store at %s", dir)
	}
	return &Store{db: db}, nil
}

// Get implements KV.
func (s *Store) Get(key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("eeprom get %q: %w", key, err)
	}
	return data, nil
}

// Put implements KV.
func (s *Store) Put(key string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("eeprom put %q: %w", key, err)
	}
	return nil
}

// PutAll implements KV. The entries share one transaction.
func (s *Store) PutAll(entries ...Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			if err := txn.Set([]byte(e.Key), e.Value); err != nil {
				return fmt.Errorf("%q: %w", e.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("eeprom put: %w", err)
	}
	return nil
}

// Close implements io.Closer.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
