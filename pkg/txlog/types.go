package txlog

import (
	"encoding/binary"

	"github.com/fortiblox/x1-counter/internal/types"
)

// Receipt records the outcome of one processed transaction.
type Receipt struct {
	Signature types.Signature `json:"signature"`
	Slot      uint64          `json:"slot"`
	BlockTime int64           `json:"blockTime"`

	// Err is empty when the transaction succeeded.
	Err string `json:"err,omitempty"`

	Fee                  uint64         `json:"fee"`
	ComputeUnitsConsumed uint64         `json:"computeUnitsConsumed"`
	LogMessages          []string       `json:"logMessages"`
	AccountKeys          []types.Pubkey `json:"accountKeys"`
	PreBalances          []uint64       `json:"preBalances"`
	PostBalances         []uint64       `json:"postBalances"`

	// DeltaHash covers the accounts the transaction wrote. BankHash chains
	// it onto the previous slot's bank hash.
	DeltaHash types.Hash `json:"deltaHash"`
	BankHash  types.Hash `json:"bankHash"`
}

// Success reports whether the transaction's instructions were applied.
func (r *Receipt) Success() bool {
	return r.Err == ""
}

// SignatureInfo is an entry of the per-address signature index.
type SignatureInfo struct {
	Signature types.Signature `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       string          `json:"err,omitempty"`
}

// encodeSlotKey encodes a slot as a big-endian key so keys sort by slot.
func encodeSlotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

func decodeSlotKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// encodeAddressKey builds [32-byte address][8-byte slot][64-byte signature].
func encodeAddressKey(addr types.Pubkey, slot uint64, sig types.Signature) []byte {
	key := make([]byte, 0, types.PubkeySize+8+types.SignatureSize)
	key = append(key, addr[:]...)
	key = binary.BigEndian.AppendUint64(key, slot)
	return append(key, sig[:]...)
}

func decodeAddressKey(key []byte) (uint64, types.Signature, bool) {
	var sig types.Signature
	if len(key) != types.PubkeySize+8+types.SignatureSize {
		return 0, sig, false
	}
	slot := binary.BigEndian.Uint64(key[types.PubkeySize:])
	copy(sig[:], key[types.PubkeySize+8:])
	return slot, sig, true
}
