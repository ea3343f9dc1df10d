package counter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

func TestCounterCodecRoundTrip(t *testing.T) {
	for v := 0; v <= 255; v++ {
		c := Counter{Count: uint8(v)}
		b, err := c.Encode()
		require.NoError(t, err)
		require.Equal(t, []byte{uint8(v)}, b)

		decoded, err := DecodeCounter(b)
		require.NoError(t, err)
		require.Equal(t, c, decoded)
	}
}

func TestDecodeCounterRejectsBadLength(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {1, 2}, make([]byte, 8)} {
		_, err := DecodeCounter(data)
		assert.ErrorIs(t, err, svm.InvalidAccountData, "len %d", len(data))
	}
}

func TestCounterAdd(t *testing.T) {
	next, ok := Counter{Count: 100}.Add(155)
	assert.True(t, ok)
	assert.Equal(t, uint8(255), next.Count)

	next, ok = Counter{Count: 255}.Add(1)
	assert.False(t, ok)
	assert.Equal(t, uint8(255), next.Count)

	next, ok = Counter{Count: 255}.Add(0)
	assert.True(t, ok)
	assert.Equal(t, uint8(255), next.Count)
}

func TestInstructionEncoding(t *testing.T) {
	b, err := Instruction{Kind: KindCreateCounter}.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, b)

	b, err = Instruction{Kind: KindIncreaseCounter, Delta: 9}.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x09}, b)

	ix, err := UnmarshalInstruction([]byte{0x01, 0xff})
	require.NoError(t, err)
	assert.Equal(t, Instruction{Kind: KindIncreaseCounter, Delta: 255}, ix)

	ix, err = UnmarshalInstruction([]byte{0x00})
	require.NoError(t, err)
	assert.Equal(t, KindCreateCounter, ix.Kind)

	_, err = Instruction{Kind: 9}.Marshal()
	assert.ErrorIs(t, err, svm.InvalidInstructionData)
}

func TestUnmarshalInstructionRejectsMalformed(t *testing.T) {
	for _, data := range [][]byte{nil, {0x02}, {0xff, 1}, {0x00, 0x00}, {0x01}, {0x01, 1, 2}} {
		_, err := UnmarshalInstruction(data)
		assert.ErrorIs(t, err, svm.InvalidInstructionData, "data %x", data)
	}
}

func TestDeriveAddress(t *testing.T) {
	user, err := types.NewKeypair()
	require.NoError(t, err)

	addr, bump, err := DeriveAddress(ProgramID, user.Pubkey)
	require.NoError(t, err)
	assert.False(t, svm.IsOnCurve(addr[:]))

	again, againBump, err := DeriveAddress(ProgramID, user.Pubkey)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, bump, againBump)

	created, err := svm.CreateProgramAddress(signerSeeds(user.Pubkey, bump), ProgramID)
	require.NoError(t, err)
	assert.Equal(t, addr, created)
}
