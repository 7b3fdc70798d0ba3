// Package badger implements the counter store on a badger key value database.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"

	"github.com/itohio/lorameter/pkg/store"
)

var errCorrupted = errors.New("invalid counter value")

// counter keys are prefixed with C
const counterPrefix = 'C'

// Ensure Store implements store.CounterStore.
var _ store.CounterStore = (*Store)(nil)

// Store keeps counters as big endian uint32 values.
type Store struct {
	*badger.DB
}

// Open opens or creates the database directory at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.TableLoadingMode = options.FileIO
	// one small value per counter, flush on every write
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{DB: db}, nil
}

func counterKey(name string) []byte {
	k := make([]byte, 1+len(name))
	k[0] = counterPrefix
	copy(k[1:], name)
	return k
}

// Load returns the saved value of name.
func (s *Store) Load(ctx context.Context, name string) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var v uint32
	err := s.View(func(txn *badger.Txn) error {
		item, err := txn.Get(counterKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 4 {
				return errCorrupted
			}
			v = binary.BigEndian.Uint32(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load counter %s: %w", name, err)
	}
	return v, nil
}

// Save stores v under name.
func (s *Store) Save(ctx context.Context, name string, v uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val := make([]byte, 4)
	binary.BigEndian.PutUint32(val, v)

	txn := s.NewTransaction(true)
	defer txn.Discard()

	if err := txn.SetEntry(badger.NewEntry(counterKey(name), val)); err != nil {
		return fmt.Errorf("failed to save counter %s: %w", name, err)
	}
	return txn.Commit()
}
