package system

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

const airdrop = uint64(10_000_000_000)

type fixture struct {
	rt    *svm.Runtime
	db    *accounts.MemoryDB
	rent  types.Rent
	payer *types.Keypair
}

func newFixture(t *testing.T) *fixture {
	payer, err := types.NewKeypair()
	require.NoError(t, err)

	f := &fixture{
		rt:    svm.NewRuntime(),
		db:    accounts.NewMemoryDB(),
		rent:  types.DefaultRent(),
		payer: payer,
	}
	f.rt.RegisterProgram(ProgramID, NewProcessor())
	require.NoError(t, f.db.SetAccount(payer.Pubkey, &accounts.Account{Lamports: airdrop}))
	return f
}

func (f *fixture) run(t *testing.T, signers []*types.Keypair, ixs ...svm.Instruction) *svm.ExecutionResult {
	tx, err := svm.NewTransaction(f.payer.Pubkey, types.Hash{}, ixs...)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(append([]*types.Keypair{f.payer}, signers...)...))

	res, err := f.rt.Execute(context.Background(), tx, svm.Environment{Accounts: f.db, Rent: f.rent})
	require.NoError(t, err)
	if res.Success {
		require.NoError(t, f.db.ApplyChanges(res.AccountChanges))
	}
	return res
}

func newKeypair(t *testing.T) *types.Keypair {
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	return kp
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	newAcct := newKeypair(t)
	owner := types.CounterProgramAddr
	lamports := f.rent.MinimumBalance(16)

	res := f.run(t, []*types.Keypair{newAcct}, CreateAccount(f.payer.Pubkey, newAcct.Pubkey, lamports, 16, owner))
	require.True(t, res.Success, "%v", res.Err)

	acc, err := f.db.GetAccount(newAcct.Pubkey)
	require.NoError(t, err)
	assert.Equal(t, lamports, acc.Lamports)
	assert.Equal(t, make([]byte, 16), acc.Data)
	assert.Equal(t, owner, acc.Owner)

	payer, err := f.db.GetAccount(f.payer.Pubkey)
	require.NoError(t, err)
	assert.Equal(t, airdrop-lamports, payer.Lamports)
}

func TestCreateAccountAlreadyInUse(t *testing.T) {
	f := newFixture(t)
	newAcct := newKeypair(t)
	ix := CreateAccount(f.payer.Pubkey, newAcct.Pubkey, f.rent.MinimumBalance(0), 0, types.CounterProgramAddr)

	require.True(t, f.run(t, []*types.Keypair{newAcct}, ix).Success)
	res := f.run(t, []*types.Keypair{newAcct}, ix)
	assert.ErrorIs(t, res.Err, svm.AccountAlreadyInUse)
}

func TestCreateAccountInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	newAcct := newKeypair(t)
	res := f.run(t, []*types.Keypair{newAcct}, CreateAccount(f.payer.Pubkey, newAcct.Pubkey, airdrop+1, 0, types.CounterProgramAddr))
	assert.ErrorIs(t, res.Err, svm.InsufficientFunds)
	assert.Contains(t, res.Logs, "Program log: Transfer: insufficient lamports 10000000000, need 10000000001")
}

func TestCreateAccountTooLarge(t *testing.T) {
	f := newFixture(t)
	newAcct := newKeypair(t)
	res := f.run(t, []*types.Keypair{newAcct}, CreateAccount(f.payer.Pubkey, newAcct.Pubkey, 1, MaxPermittedDataLength+1, types.CounterProgramAddr))
	assert.ErrorIs(t, res.Err, svm.InvalidRealloc)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	to := newKeypair(t).Pubkey
	amount := f.rent.MinimumBalance(0)

	res := f.run(t, nil, Transfer(f.payer.Pubkey, to, amount))
	require.True(t, res.Success, "%v", res.Err)

	acc, err := f.db.GetAccount(to)
	require.NoError(t, err)
	assert.Equal(t, amount, acc.Lamports)
	assert.Equal(t, ProgramID, acc.Owner)
}

func TestTransferBelowRentExemptionFails(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, nil, Transfer(f.payer.Pubkey, newKeypair(t).Pubkey, 1))
	var rentErr *svm.InsufficientFundsForRentError
	assert.ErrorAs(t, res.Err, &rentErr)
}

func TestAssignAndAllocateRequireSigner(t *testing.T) {
	f := newFixture(t)
	acct := newKeypair(t)

	unsigned := Allocate(acct.Pubkey, 8)
	unsigned.Accounts[0].IsSigner = false
	res := f.run(t, nil, unsigned)
	assert.ErrorIs(t, res.Err, svm.MissingRequiredSignature)

	res = f.run(t, []*types.Keypair{acct},
		Transfer(f.payer.Pubkey, acct.Pubkey, f.rent.MinimumBalance(8)),
		Allocate(acct.Pubkey, 8),
		Assign(acct.Pubkey, types.CounterProgramAddr),
	)
	require.True(t, res.Success, "%v", res.Err)

	acc, err := f.db.GetAccount(acct.Pubkey)
	require.NoError(t, err)
	assert.Len(t, acc.Data, 8)
	assert.Equal(t, types.CounterProgramAddr, acc.Owner)
}

func TestInvalidInstructionData(t *testing.T) {
	f := newFixture(t)
	for _, data := range [][]byte{nil, {0, 0, 0}, {99, 0, 0, 0}, {2, 0, 0, 0, 1}} {
		res := f.run(t, nil, svm.Instruction{
			ProgramID: ProgramID,
			Accounts:  []svm.AccountMeta{svm.NewWritableAccountMeta(f.payer.Pubkey, true)},
			Data:      data,
		})
		assert.ErrorIs(t, res.Err, svm.InvalidInstructionData, "data %v", data)
	}
}
