// Package accounts implements the account store backing the ledger.
//
// Every piece of ledger state lives in an account: user wallets holding
// lamports, program-owned data accounts such as counters, and the executable
// accounts that mark native programs. The store keeps only current state,
// keyed by pubkey.
//
// Two implementations are provided:
//   - MemoryDB, a mutex-guarded map used by tests and ephemeral ledgers
//   - BadgerDB, an LSM-backed store used by the CLI and the gRPC server
//
// Both apply transaction results through ApplyChanges so that all writes
// produced by one transaction become visible together or not at all.
package accounts

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-counter/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when account data is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize is the largest data buffer an account may hold.
const MaxAccountDataSize = 10 * 1024 * 1024

// serializedHeaderSize is lamports (8) + data_len (8).
// serializedFooterSize is owner (32) + executable (1) + rent_epoch (8).
const (
	serializedHeaderSize = 8 + 8
	serializedFooterSize = 32 + 1 + 8
)

// Account represents a single account in the state.
type Account struct {
	// Lamports is the account balance.
	Lamports uint64

	// Data is the account data. Only the owner program may modify it.
	Data []byte

	// Owner is the program that owns this account.
	Owner types.Pubkey

	// Executable marks program accounts.
	Executable bool

	// RentEpoch is the epoch at which rent was last collected.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	return serializedHeaderSize + len(a.Data) + serializedFooterSize
}

// Serialize encodes the account to bytes for storage.
// Format: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], a.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(a.Data)))
	offset += 8

	copy(buf[offset:], a.Data)
	offset += len(a.Data)

	copy(buf[offset:], a.Owner[:])
	offset += 32

	if a.Executable {
		buf[offset] = 1
	}
	offset++

	binary.LittleEndian.PutUint64(buf[offset:], a.RentEpoch)

	return buf
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < serializedHeaderSize+serializedFooterSize {
		return nil, ErrInvalidData
	}

	offset := 0

	lamports := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	dataLen := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	if dataLen > MaxAccountDataSize {
		return nil, errors.Wrapf(ErrInvalidData, "data length %d exceeds maximum", dataLen)
	}
	if uint64(len(data)-offset) != dataLen+serializedFooterSize {
		return nil, errors.Wrapf(ErrInvalidData, "length mismatch for data_len %d", dataLen)
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:offset+int(dataLen)])
	offset += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])
	offset += 32

	executable := data[offset] != 0
	offset++

	rentEpoch := binary.LittleEndian.Uint64(data[offset:])

	return &Account{
		Lamports:   lamports,
		Data:       accountData,
		Owner:      owner,
		Executable: executable,
		RentEpoch:  rentEpoch,
	}, nil
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account.
	// If the account is zero (no lamports and no data), it is deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// ApplyChanges stores every account in changes atomically.
	// Zero accounts are deleted.
	ApplyChanges(changes map[types.Pubkey]*Account) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// IterateAccounts calls fn for every account in ascending pubkey order.
	// Returning an error from fn stops iteration.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the current slot.
	GetSlot() uint64

	// SetSlot updates the current slot.
	SetSlot(slot uint64) error

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Commit persists pending metadata.
	Commit() error

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.setLocked(pubkey, account)
	return nil
}

// ApplyChanges stores every account in changes under a single lock.
func (m *MemoryDB) ApplyChanges(changes map[types.Pubkey]*Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for pubkey, account := range changes {
		m.setLocked(pubkey, account)
	}
	return nil
}

func (m *MemoryDB) setLocked(pubkey types.Pubkey, account *Account) {
	if account.IsZero() {
		delete(m.accounts, pubkey)
		return
	}
	m.accounts[pubkey] = account.Clone()
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// IterateAccounts visits accounts in ascending pubkey order.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	snapshot := make(map[types.Pubkey]*Account, len(m.accounts))
	for k, v := range m.accounts {
		keys = append(keys, k)
		snapshot[k] = v.Clone()
	}
	m.mu.RUnlock()

	SortPubkeys(keys)
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// SetSlot updates the current slot.
func (m *MemoryDB) SetSlot(slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.slot = slot
	return nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Commit is a no-op for MemoryDB.
func (m *MemoryDB) Commit() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.accounts = nil
	return nil
}

// SortPubkeys sorts a slice of pubkeys in ascending byte order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return comparePubkeys(pubkeys[i], pubkeys[j]) < 0
	})
}

// comparePubkeys compares two pubkeys lexicographically.
func comparePubkeys(a, b types.Pubkey) int {
	for i := 0; i < types.PubkeySize; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

var _ DB = (*MemoryDB)(nil)
