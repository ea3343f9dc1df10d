// Package txlog persists transaction receipts in a BoltDB file, indexed
// by signature and by the addresses each transaction referenced.
package txlog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/x1-counter/internal/types"
)

var (
	// ErrNotFound is returned when no receipt exists for a signature.
	ErrNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed log.
	ErrClosed = errors.New("txlog closed")

	// ErrDuplicate is returned when a receipt for the signature exists.
	ErrDuplicate = errors.New("transaction already recorded")
)

var (
	bucketReceipts  = []byte("receipts")
	bucketAddrSigs  = []byte("addr_sigs")
	bucketMetadata  = []byte("metadata")
	keyLatestSlot   = []byte("latest_slot")
	keyReceiptCount = []byte("receipt_count")
)

// Log is a receipt store.
type Log interface {
	Put(r *Receipt) error
	Delete(sig types.Signature) error
	Get(sig types.Signature) (*Receipt, error)
	SignaturesForAddress(addr types.Pubkey, limit int) ([]SignatureInfo, error)
	LatestSlot() uint64
	Count() uint64
	Close() error
}

// Config holds txlog options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync skips fsync after each write.
	NoSync bool

	// ReadOnly opens the database without write access.
	ReadOnly bool
}

// DefaultConfig returns the default configuration for path.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// BoltLog implements Log on BoltDB.
type BoltLog struct {
	db *bolt.DB

	mu         sync.RWMutex
	latestSlot uint64
	count      uint64
	closed     bool
}

var _ Log = (*BoltLog)(nil)

// Open creates or opens the log at config.Path.
func Open(config Config) (*BoltLog, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, errors.Wrap(err, "create directory")
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	l := &BoltLog{db: db}
	if !config.ReadOnly {
		if err := l.initBuckets(); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "init buckets")
		}
	}
	if err := l.loadMetadata(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load metadata")
	}
	return l, nil
}

func (l *BoltLog) initBuckets() error {
	return l.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketReceipts, bucketAddrSigs, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
}

func (l *BoltLog) loadMetadata() error {
	return l.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		l.latestSlot = decodeSlotKey(meta.Get(keyLatestSlot))
		l.count = decodeSlotKey(meta.Get(keyReceiptCount))
		return nil
	})
}

func (l *BoltLog) checkOpen() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

// Put stores r and indexes it under every account key it references.
func (l *BoltLog) Put(r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode receipt")
	}
	info, err := json.Marshal(SignatureInfo{Signature: r.Signature, Slot: r.Slot, Err: r.Err})
	if err != nil {
		return errors.Wrap(err, "encode signature info")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	latest := l.latestSlot
	if r.Slot > latest {
		latest = r.Slot
	}
	err = l.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		if receipts.Get(r.Signature[:]) != nil {
			return ErrDuplicate
		}
		if err := receipts.Put(r.Signature[:], data); err != nil {
			return err
		}

		addrSigs := tx.Bucket(bucketAddrSigs)
		for _, addr := range r.AccountKeys {
			if err := addrSigs.Put(encodeAddressKey(addr, r.Slot, r.Signature), info); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyLatestSlot, encodeSlotKey(latest)); err != nil {
			return err
		}
		return meta.Put(keyReceiptCount, encodeSlotKey(l.count+1))
	})
	if err != nil {
		return err
	}

	l.latestSlot = latest
	l.count++
	return nil
}

// Delete removes the receipt for sig and its address index entries.
// LatestSlot is not lowered.
func (l *BoltLog) Delete(sig types.Signature) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	err := l.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		data := receipts.Get(sig[:])
		if data == nil {
			return ErrNotFound
		}
		var r Receipt
		if err := json.Unmarshal(data, &r); err != nil {
			return errors.Wrap(err, "decode receipt")
		}

		addrSigs := tx.Bucket(bucketAddrSigs)
		for _, addr := range r.AccountKeys {
			if err := addrSigs.Delete(encodeAddressKey(addr, r.Slot, r.Signature)); err != nil {
				return err
			}
		}
		if err := receipts.Delete(sig[:]); err != nil {
			return err
		}
		return tx.Bucket(bucketMetadata).Put(keyReceiptCount, encodeSlotKey(l.count-1))
	})
	if err != nil {
		return err
	}

	l.count--
	return nil
}

// Get returns the receipt for sig.
func (l *BoltLog) Get(sig types.Signature) (*Receipt, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	var r Receipt
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReceipts).Get(sig[:])
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SignaturesForAddress returns up to limit signatures that referenced
// addr, newest slot first. A limit of zero or less returns all of them.
func (l *BoltLog) SignaturesForAddress(addr types.Pubkey, limit int) ([]SignatureInfo, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	var out []SignatureInfo
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddrSigs).Cursor()
		prefix := addr[:]

		// Seek past the last key with this prefix, then walk backwards.
		upper := encodeAddressKey(addr, ^uint64(0), types.Signature{})
		for i := types.PubkeySize + 8; i < len(upper); i++ {
			upper[i] = 0xff
		}
		k, v := c.Seek(upper)
		if k == nil {
			k, v = c.Last()
		} else if !bytes.Equal(k, upper) {
			k, v = c.Prev()
		}

		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			if _, _, ok := decodeAddressKey(k); !ok {
				continue
			}
			var info SignatureInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return errors.Wrap(err, "decode signature info")
			}
			out = append(out, info)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// LatestSlot returns the highest slot of any stored receipt.
func (l *BoltLog) LatestSlot() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latestSlot
}

// Count returns the number of stored receipts.
func (l *BoltLog) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Sync flushes the database to disk.
func (l *BoltLog) Sync() error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	return l.db.Sync()
}

// Close closes the database.
func (l *BoltLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.closed = true
	return l.db.Close()
}
