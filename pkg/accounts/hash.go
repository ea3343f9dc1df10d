package accounts

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fortiblox/x1-counter/internal/types"
)

// ComputeAccountHash hashes a single account:
// SHA256(lamports || rent_epoch || data || executable || owner || pubkey)
//
// Deleted (zero) accounts hash to the zero hash.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.IsZero() {
		return types.Hash{}
	}

	buf := make([]byte, 0, 8+8+len(account.Data)+1+32+32)
	buf = binary.LittleEndian.AppendUint64(buf, account.Lamports)
	buf = binary.LittleEndian.AppendUint64(buf, account.RentEpoch)
	buf = append(buf, account.Data...)
	if account.Executable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, account.Owner[:]...)
	buf = append(buf, pubkey[:]...)

	return sha256.Sum256(buf)
}

// ComputeDeltaHash is the Merkle root over the hashes of a set of changed
// accounts, taken in ascending pubkey order.
func ComputeDeltaHash(changes map[types.Pubkey]*Account) types.Hash {
	if len(changes) == 0 {
		return types.Hash{}
	}
	keys := make([]types.Pubkey, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	SortPubkeys(keys)

	hashes := make([]types.Hash, len(keys))
	for i, k := range keys {
		hashes[i] = ComputeAccountHash(k, changes[k])
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeStateHash is the Merkle root over every account in db.
func ComputeStateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot computes a binary Merkle root.
//
//	leaf: SHA256(0x00 || hash)
//	node: SHA256(0x01 || left || right)
//
// An unpaired node is combined with the zero hash.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = leafHash(h)
	}
	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = nodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func leafHash(h types.Hash) types.Hash {
	var buf [1 + types.HashSize]byte
	buf[0] = 0x00
	copy(buf[1:], h[:])
	return sha256.Sum256(buf[:])
}

func nodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 2*types.HashSize]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[1+types.HashSize:], right[:])
	return sha256.Sum256(buf[:])
}

// BankHashInput contains the inputs for computing a bank hash.
type BankHashInput struct {
	ParentBankHash    types.Hash
	AccountsDeltaHash types.Hash
	NumSignatures     uint64
	Blockhash         types.Hash
}

// ComputeBankHash returns SHA256(parent || delta || num_sigs || blockhash).
func ComputeBankHash(in BankHashInput) types.Hash {
	buf := make([]byte, 0, 32+32+8+32)
	buf = append(buf, in.ParentBankHash[:]...)
	buf = append(buf, in.AccountsDeltaHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, in.NumSignatures)
	buf = append(buf, in.Blockhash[:]...)
	return sha256.Sum256(buf)
}
