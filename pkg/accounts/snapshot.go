package accounts

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/x1-counter/internal/types"
)

// Snapshot layout:
//
//	magic "X1CS" | version u32 | slot u64 | state_hash [32]     (plain)
//	zstd stream:
//	  repeated: 0x01 | pubkey [32] | len u32 | serialized account
//	  0x00 | count u64 | blake3(records) [32]
const snapshotVersion uint32 = 1

var snapshotMagic = [4]byte{'X', '1', 'C', 'S'}

const (
	recordAccount byte = 0x01
	recordEnd     byte = 0x00
)

var (
	// ErrBadSnapshot is returned for malformed or corrupted snapshots.
	ErrBadSnapshot = errors.New("bad snapshot")
)

// SnapshotHeader describes a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	StateHash     types.Hash
	AccountsCount uint64
	Digest        [32]byte
}

// WriteSnapshot streams every account in db to w.
func WriteSnapshot(w io.Writer, db DB) (*SnapshotHeader, error) {
	stateHash, err := ComputeStateHash(db)
	if err != nil {
		return nil, errors.Wrap(err, "compute state hash")
	}
	hdr := &SnapshotHeader{
		Version:   snapshotVersion,
		Slot:      db.GetSlot(),
		StateHash: stateHash,
	}

	head := make([]byte, 0, 4+4+8+32)
	head = append(head, snapshotMagic[:]...)
	head = binary.LittleEndian.AppendUint32(head, hdr.Version)
	head = binary.LittleEndian.AppendUint64(head, hdr.Slot)
	head = append(head, hdr.StateHash[:]...)
	if _, err := w.Write(head); err != nil {
		return nil, errors.Wrap(err, "write snapshot header")
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, errors.Wrap(err, "zstd writer")
	}
	bw := bufio.NewWriter(enc)
	digest := blake3.New()
	out := io.MultiWriter(bw, digest)

	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		rec := make([]byte, 0, 1+32+4)
		rec = append(rec, recordAccount)
		rec = append(rec, pubkey[:]...)
		rec = binary.LittleEndian.AppendUint32(rec, uint32(len(data)))
		if _, err := out.Write(rec); err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		hdr.AccountsCount++
		return nil
	})
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "write accounts")
	}

	copy(hdr.Digest[:], digest.Sum(nil))
	tail := make([]byte, 0, 1+8+32)
	tail = append(tail, recordEnd)
	tail = binary.LittleEndian.AppendUint64(tail, hdr.AccountsCount)
	tail = append(tail, hdr.Digest[:]...)
	if _, err := bw.Write(tail); err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "write trailer")
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "flush snapshot")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "close zstd stream")
	}
	return hdr, nil
}

// ReadSnapshot verifies a snapshot from r and loads it into db. Nothing is
// written to db unless the digest, count and state hash all match.
func ReadSnapshot(r io.Reader, db DB) (*SnapshotHeader, error) {
	head := make([]byte, 4+4+8+32)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, errors.Wrap(ErrBadSnapshot, "short header")
	}
	if !bytes.Equal(head[:4], snapshotMagic[:]) {
		return nil, errors.Wrap(ErrBadSnapshot, "bad magic")
	}
	hdr := &SnapshotHeader{
		Version: binary.LittleEndian.Uint32(head[4:]),
		Slot:    binary.LittleEndian.Uint64(head[8:]),
	}
	copy(hdr.StateHash[:], head[16:])
	if hdr.Version != snapshotVersion {
		return nil, errors.Wrapf(ErrBadSnapshot, "unsupported version %d", hdr.Version)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "zstd reader")
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	digest := blake3.New()
	changes := make(map[types.Pubkey]*Account)
	for {
		tag, err := br.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrBadSnapshot, "truncated stream")
		}
		if tag == recordEnd {
			break
		}
		if tag != recordAccount {
			return nil, errors.Wrapf(ErrBadSnapshot, "unknown record tag %#x", tag)
		}

		rec := make([]byte, 32+4)
		if _, err := io.ReadFull(br, rec); err != nil {
			return nil, errors.Wrap(ErrBadSnapshot, "truncated record")
		}
		size := binary.LittleEndian.Uint32(rec[32:])
		if size > MaxAccountDataSize+serializedHeaderSize+serializedFooterSize {
			return nil, errors.Wrapf(ErrBadSnapshot, "record size %d", size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, errors.Wrap(ErrBadSnapshot, "truncated account")
		}
		digest.Write([]byte{tag})
		digest.Write(rec)
		digest.Write(data)

		account, err := DeserializeAccount(data)
		if err != nil {
			return nil, errors.Wrap(ErrBadSnapshot, err.Error())
		}
		var pubkey types.Pubkey
		copy(pubkey[:], rec[:32])
		changes[pubkey] = account
	}

	tail := make([]byte, 8+32)
	if _, err := io.ReadFull(br, tail); err != nil {
		return nil, errors.Wrap(ErrBadSnapshot, "truncated trailer")
	}
	hdr.AccountsCount = binary.LittleEndian.Uint64(tail)
	copy(hdr.Digest[:], tail[8:])

	if hdr.AccountsCount != uint64(len(changes)) {
		return nil, errors.Wrapf(ErrBadSnapshot, "count %d, read %d", hdr.AccountsCount, len(changes))
	}
	if !bytes.Equal(digest.Sum(nil), hdr.Digest[:]) {
		return nil, errors.Wrap(ErrBadSnapshot, "digest mismatch")
	}
	if got := ComputeDeltaHash(changes); got != hdr.StateHash {
		return nil, errors.Wrapf(ErrBadSnapshot, "state hash %s, header %s", got, hdr.StateHash)
	}

	if err := db.ApplyChanges(changes); err != nil {
		return nil, errors.Wrap(err, "load accounts")
	}
	if err := db.SetSlot(hdr.Slot); err != nil {
		return nil, err
	}
	if err := db.Commit(); err != nil {
		return nil, err
	}
	return hdr, nil
}
