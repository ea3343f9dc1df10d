package svm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-counter/internal/types"
)

func newKeypair(t *testing.T) *types.Keypair {
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	return kp
}

func TestNewMessageOrdering(t *testing.T) {
	payer := newKeypair(t).Pubkey
	user := newKeypair(t).Pubkey
	writable := newKeypair(t).Pubkey
	readonly := newKeypair(t).Pubkey
	program := types.CounterProgramAddr

	ix := Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			NewReadonlyAccountMeta(readonly, false),
			NewReadonlyAccountMeta(user, true),
			NewWritableAccountMeta(writable, false),
			NewWritableAccountMeta(payer, true),
		},
		Data: []byte{1, 2},
	}
	msg, err := NewMessage(payer, types.Hash{1}, ix)
	require.NoError(t, err)

	assert.Equal(t, []types.Pubkey{payer, user, writable, readonly, program}, msg.AccountKeys)
	assert.Equal(t, MessageHeader{
		NumRequiredSignatures:       2,
		NumReadonlySignedAccounts:   1,
		NumReadonlyUnsignedAccounts: 2,
	}, msg.Header)

	require.Len(t, msg.Instructions, 1)
	assert.Equal(t, uint8(4), msg.Instructions[0].ProgramIDIndex)
	assert.Equal(t, []uint8{3, 1, 2, 0}, msg.Instructions[0].AccountIndexes)

	for i, want := range []struct{ signer, writable bool }{
		{true, true}, {true, false}, {false, true}, {false, false}, {false, false},
	} {
		assert.Equal(t, want.signer, msg.IsSigner(i), "signer %d", i)
		assert.Equal(t, want.writable, msg.IsWritable(i), "writable %d", i)
	}
}

func TestNewMessageMergesPrivileges(t *testing.T) {
	payer := newKeypair(t).Pubkey
	acct := newKeypair(t).Pubkey

	msg, err := NewMessage(payer, types.Hash{},
		Instruction{ProgramID: types.SystemProgramAddr, Accounts: []AccountMeta{NewReadonlyAccountMeta(acct, false)}},
		Instruction{ProgramID: types.SystemProgramAddr, Accounts: []AccountMeta{NewWritableAccountMeta(acct, true)}},
	)
	require.NoError(t, err)
	assert.Equal(t, []types.Pubkey{payer, acct, types.SystemProgramAddr}, msg.AccountKeys)
	assert.True(t, msg.IsSigner(1))
	assert.True(t, msg.IsWritable(1))
}

func TestTransactionRoundTrip(t *testing.T) {
	payer := newKeypair(t)
	user := newKeypair(t)

	tx, err := NewTransaction(payer.Pubkey, types.ComputeHash([]byte("bh")), Instruction{
		ProgramID: types.CounterProgramAddr,
		Accounts: []AccountMeta{
			NewReadonlyAccountMeta(user.Pubkey, true),
			NewWritableAccountMeta(payer.Pubkey, true),
		},
		Data: []byte{1, 5},
	}, Instruction{ProgramID: types.CounterProgramAddr})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(payer, user))
	require.NoError(t, tx.VerifySignatures())

	raw, err := tx.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalTransaction(raw)
	require.NoError(t, err)
	require.NoError(t, decoded.VerifySignatures())
	assert.Equal(t, tx.Signatures, decoded.Signatures)
	assert.Equal(t, tx.Message.AccountKeys, decoded.Message.AccountKeys)
	assert.Equal(t, tx.Message.Header, decoded.Message.Header)
	assert.Equal(t, tx.Message.RecentBlockhash, decoded.Message.RecentBlockhash)
	require.Len(t, decoded.Message.Instructions, 2)
	assert.Equal(t, []byte{1, 5}, decoded.Message.Instructions[0].Data)
	assert.Empty(t, decoded.Message.Instructions[1].Data)
	assert.Equal(t, payer.Pubkey, decoded.FeePayer())

	_, err = UnmarshalTransaction(append(raw, 0))
	assert.Error(t, err, "trailing bytes")
	_, err = UnmarshalTransaction(raw[:len(raw)-1])
	assert.Error(t, err, "truncated")
}

func TestSignRejectsNonSigner(t *testing.T) {
	payer := newKeypair(t)
	stranger := newKeypair(t)
	tx, err := NewTransaction(payer.Pubkey, types.Hash{}, Instruction{ProgramID: types.CounterProgramAddr})
	require.NoError(t, err)
	assert.Error(t, tx.Sign(stranger))
}

func TestVerifySignaturesDetectsTampering(t *testing.T) {
	payer := newKeypair(t)
	tx, err := NewTransaction(payer.Pubkey, types.Hash{}, Instruction{ProgramID: types.CounterProgramAddr, Data: []byte{0}})
	require.NoError(t, err)

	assert.ErrorIs(t, tx.VerifySignatures(), ErrSignatureFailure, "unsigned")

	require.NoError(t, tx.Sign(payer))
	tx.Message.Instructions[0].Data[0] = 1
	assert.ErrorIs(t, tx.VerifySignatures(), ErrSignatureFailure)
}

func TestSanitize(t *testing.T) {
	payer := newKeypair(t).Pubkey
	msg, err := NewMessage(payer, types.Hash{}, Instruction{ProgramID: types.CounterProgramAddr})
	require.NoError(t, err)
	require.NoError(t, msg.Sanitize())

	bad := msg
	bad.Instructions = []CompiledInstruction{{ProgramIDIndex: 9}}
	assert.ErrorIs(t, bad.Sanitize(), ErrSanitizeFailure)

	bad = msg
	bad.Instructions = []CompiledInstruction{{ProgramIDIndex: 0}}
	assert.ErrorIs(t, bad.Sanitize(), ErrSanitizeFailure, "fee payer cannot be a program")

	bad = msg
	bad.Header.NumRequiredSignatures = 0
	assert.ErrorIs(t, bad.Sanitize(), ErrSanitizeFailure)

	bad = msg
	bad.AccountKeys = []types.Pubkey{payer, payer}
	assert.ErrorIs(t, bad.Sanitize(), ErrSanitizeFailure)
}
