package svm

import (
	"crypto/sha256"

	"filippo.io/edwards25519"

	"github.com/fortiblox/x1-counter/internal/types"
)

// PDA limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

// SignerSeeds are the seeds (bump included) a program presents to sign for
// one of its derived addresses during a cross-program invocation.
type SignerSeeds [][]byte

// CreateProgramAddress derives an address from seeds and a program id.
// Digests that decode to a valid ed25519 point are rejected with
// InvalidSeeds, so no private key can exist for the address.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, MaxSeedLengthExceeded
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, MaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return types.Pubkey{}, InvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bump seeds from 255 down and returns the first
// address that is off the curve, together with its bump.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return types.Pubkey{}, 0, MaxSeedLengthExceeded
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if err != InvalidSeeds {
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, InvalidSeeds
}

// IsOnCurve reports whether b decodes to an ed25519 point. Non-canonical
// encodings of valid points are accepted.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// FindProgramAddressCost is the compute charged for a search that ended
// at bump.
func FindProgramAddressCost(bump uint8) uint64 {
	return CUCreateProgramAddress * uint64(256-int(bump))
}
