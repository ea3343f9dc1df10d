package svm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-counter/internal/types"
)

func TestFindProgramAddress(t *testing.T) {
	program := types.CounterProgramAddr
	user, err := types.NewKeypairFromReader(bytes.NewReader(make([]byte, 32)))
	require.NoError(t, err)
	seeds := [][]byte{[]byte("counter"), user.Pubkey[:]}

	addr, bump, err := FindProgramAddress(seeds, program)
	require.NoError(t, err)
	assert.False(t, IsOnCurve(addr[:]))

	again, againBump, err := FindProgramAddress(seeds, program)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, bump, againBump)

	created, err := CreateProgramAddress(append(seeds, []byte{bump}), program)
	require.NoError(t, err)
	assert.Equal(t, addr, created)

	// every bump above the canonical one lands on the curve
	for b := 255; b > int(bump); b-- {
		_, err := CreateProgramAddress(append(seeds, []byte{byte(b)}), program)
		assert.ErrorIs(t, err, InvalidSeeds)
	}

	other, _, err := FindProgramAddress([][]byte{[]byte("counter"), types.SystemProgramAddr[:]}, program)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}

func TestCreateProgramAddressSeedLimits(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLen+1)}, types.CounterProgramAddr)
	assert.ErrorIs(t, err, MaxSeedLengthExceeded)

	tooMany := make([][]byte, MaxSeeds+1)
	_, err = CreateProgramAddress(tooMany, types.CounterProgramAddr)
	assert.ErrorIs(t, err, MaxSeedLengthExceeded)
}

func TestIsOnCurve(t *testing.T) {
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	assert.True(t, IsOnCurve(kp.Pubkey[:]), "ed25519 public keys are curve points")
	assert.False(t, IsOnCurve([]byte{1, 2, 3}))

	// y = p+1 is a non-canonical encoding of the identity point
	nonCanonical := bytes.Repeat([]byte{0xff}, 32)
	nonCanonical[0] = 0xee
	nonCanonical[31] = 0x7f
	assert.True(t, IsOnCurve(nonCanonical))
}

func TestFindProgramAddressCost(t *testing.T) {
	assert.Equal(t, CUCreateProgramAddress, FindProgramAddressCost(255))
	assert.Equal(t, 3*CUCreateProgramAddress, FindProgramAddressCost(253))
}
