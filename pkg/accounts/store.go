package accounts

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-counter/internal/types"
)

// Key layout:
//
//	0x01 || pubkey   serialized account
//	0x02 || name     ledger metadata
var (
	prefixAccount = []byte{0x01}
	prefixMeta    = []byte{0x02}

	metaSlot          = append([]byte{0x02}, []byte("slot")...)
	metaAccountsCount = append([]byte{0x02}, []byte("count")...)
)

const accountKeySize = 1 + types.PubkeySize

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger receives badger's internal logs. Nil disables them.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		NumCompactors:    2,
		ValueLogFileSize: 64 << 20,
	}
}

// BadgerDB is a BadgerDB-backed implementation of DB.
//
// Accounts are keyed by pubkey; the slot and account count are cached in
// memory and persisted on Commit. ApplyChanges writes a whole transaction's
// accounts in one badger transaction.
type BadgerDB struct {
	db *badger.DB

	slot          atomic.Uint64
	accountsCount atomic.Uint64

	// mu serializes writers so count tracking stays exact.
	mu     sync.Mutex
	closed atomic.Bool
}

// NewBadgerDB opens (or creates) a BadgerDB-backed accounts database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}

	bdb := &BadgerDB{db: db}
	if err := bdb.loadMetadata(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load metadata")
	}
	return bdb, nil
}

func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		slot, err := readUint64(txn, metaSlot)
		if err != nil {
			return err
		}
		count, err := readUint64(txn, metaAccountsCount)
		if err != nil {
			return err
		}
		b.slot.Store(slot)
		b.accountsCount.Store(count)
		return nil
	})
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return errors.Wrapf(ErrInvalidData, "metadata %q has %d bytes", key[1:], len(val))
		}
		v = binary.LittleEndian.Uint64(val)
		return nil
	})
	return v, err
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, accountKeySize)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

// GetAccount retrieves an account by public key.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			account, err = DeserializeAccount(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetAccount stores a single account.
func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return b.ApplyChanges(map[types.Pubkey]*Account{pubkey: account})
}

// ApplyChanges commits all changes in one badger transaction. On error no
// change is visible.
func (b *BadgerDB) ApplyChanges(changes map[types.Pubkey]*Account) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var delta int64
	err := b.db.Update(func(txn *badger.Txn) error {
		delta = 0
		for pubkey, account := range changes {
			key := accountKey(pubkey)
			_, err := txn.Get(key)
			exists := err == nil
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			if account.IsZero() {
				if exists {
					if err := txn.Delete(key); err != nil {
						return err
					}
					delta--
				}
				continue
			}
			if err := txn.Set(key, account.Serialize()); err != nil {
				return err
			}
			if !exists {
				delta++
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "apply account changes")
	}

	b.accountsCount.Add(uint64(delta))
	return nil
}

// DeleteAccount removes an account.
func (b *BadgerDB) DeleteAccount(pubkey types.Pubkey) error {
	return b.ApplyChanges(map[types.Pubkey]*Account{pubkey: {}})
}

// HasAccount checks if an account exists.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}

	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// IterateAccounts visits accounts in ascending pubkey order.
func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != accountKeySize {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			err := item.Value(func(val []byte) error {
				account, err := DeserializeAccount(val)
				if err != nil {
					return errors.Wrapf(err, "account %s", pubkey)
				}
				return fn(pubkey, account)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSlot returns the current slot.
func (b *BadgerDB) GetSlot() uint64 {
	return b.slot.Load()
}

// SetSlot updates the cached slot. It is persisted on Commit.
func (b *BadgerDB) SetSlot(slot uint64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.slot.Store(slot)
	return nil
}

// AccountsCount returns the total number of accounts.
func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// Commit persists slot and count metadata.
func (b *BadgerDB) Commit() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.commitMeta()
}

func (b *BadgerDB) commitMeta() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, b.slot.Load())
		if err := txn.Set(metaSlot, buf); err != nil {
			return err
		}
		buf = make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, b.accountsCount.Load())
		return txn.Set(metaAccountsCount, buf)
	})
}

// RunGC reclaims value log space. ErrNoRewrite from badger is not an error.
func (b *BadgerDB) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close persists metadata and closes the database.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	metaErr := b.commitMeta()
	if err := b.db.Close(); err != nil {
		return errors.Wrap(err, "close badger")
	}
	return errors.Wrap(metaErr, "persist metadata")
}

var _ DB = (*BadgerDB)(nil)
