package counter_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/counter"
	"github.com/fortiblox/x1-counter/pkg/counter/countertest"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

func TestCreateCounter(t *testing.T) {
	h := countertest.New(t)
	user := h.NewUser()

	res := h.Send([]*types.Keypair{user}, h.CreateIx(user.Pubkey))
	require.True(t, res.Success, "%v", res.Err)
	assert.Contains(t, res.Logs, "Program log: Counter account created successfully!")
	assert.Contains(t, res.Logs, "Program "+types.SystemProgramAddr.String()+" invoke [2]")
	assert.Contains(t, res.Logs, fmt.Sprintf("Program log: Space: %d", counter.CounterSize))
	assert.Contains(t, res.Logs, fmt.Sprintf("Program log: Lamports: %d", h.Rent.MinimumBalance(counter.CounterSize)))

	acc := h.Account(h.CounterAddress(user.Pubkey))
	require.NotNil(t, acc)
	assert.Equal(t, h.ProgramID, acc.Owner)
	assert.Equal(t, []byte{0}, acc.Data)
	assert.Equal(t, h.Rent.MinimumBalance(counter.CounterSize), acc.Lamports)
	assert.Equal(t, uint8(0), h.Count(user.Pubkey))

	payer := h.Account(h.Payer.Pubkey)
	assert.Equal(t, countertest.PayerLamports-acc.Lamports, payer.Lamports)
	assert.Nil(t, h.Account(user.Pubkey), "user is never funded")
}

func TestCreateCounterTwiceFails(t *testing.T) {
	h := countertest.New(t)
	user := h.NewUser()
	require.True(t, h.Send([]*types.Keypair{user}, h.CreateIx(user.Pubkey)).Success)
	require.True(t, h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 4)).Success)

	before := h.Account(h.CounterAddress(user.Pubkey))
	res := h.Send([]*types.Keypair{user}, h.CreateIx(user.Pubkey))
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, svm.AccountAlreadyInUse)
	assert.Equal(t, before, h.Account(h.CounterAddress(user.Pubkey)))
	assert.Equal(t, uint8(4), h.Count(user.Pubkey))
}

func TestCountersAreIndependentPerUser(t *testing.T) {
	h := countertest.New(t)
	alice, bob := h.NewUser(), h.NewUser()
	require.NotEqual(t, h.CounterAddress(alice.Pubkey), h.CounterAddress(bob.Pubkey))

	require.True(t, h.Send([]*types.Keypair{alice}, h.CreateIx(alice.Pubkey)).Success)
	require.True(t, h.Send([]*types.Keypair{bob}, h.CreateIx(bob.Pubkey)).Success)
	require.True(t, h.Send([]*types.Keypair{alice}, h.IncreaseIx(alice.Pubkey, 9)).Success)

	assert.Equal(t, uint8(9), h.Count(alice.Pubkey))
	assert.Equal(t, uint8(0), h.Count(bob.Pubkey))
}

func TestIncreaseCounterAccumulates(t *testing.T) {
	h := countertest.New(t)
	user := h.NewUser()
	require.True(t, h.Send([]*types.Keypair{user}, h.CreateIx(user.Pubkey)).Success)

	res := h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 1))
	require.True(t, res.Success, "%v", res.Err)
	assert.Contains(t, res.Logs, "Program log: Counter incremented by 1, new value: 1")
	assert.Equal(t, uint8(1), h.Count(user.Pubkey))

	res = h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 2))
	require.True(t, res.Success, "%v", res.Err)
	assert.Contains(t, res.Logs, "Program log: Counter incremented by 2, new value: 3")
	assert.Equal(t, uint8(3), h.Count(user.Pubkey))

	res = h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 0))
	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, uint8(3), h.Count(user.Pubkey))
}

func TestIncreaseCounterOverflow(t *testing.T) {
	h := countertest.New(t)
	user := h.NewUser()
	require.True(t, h.Send([]*types.Keypair{user}, h.CreateIx(user.Pubkey)).Success)
	require.True(t, h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 100)).Success)
	require.True(t, h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 155)).Success)
	assert.Equal(t, uint8(255), h.Count(user.Pubkey))

	res := h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 1))
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, svm.ArithmeticOverflow)
	assert.Equal(t, "Error processing Instruction 0: Program arithmetic overflowed", res.Err.Error())
	assert.Equal(t, uint8(255), h.Count(user.Pubkey))
}

func TestIncreaseCounterTwiceInOneTransaction(t *testing.T) {
	h := countertest.New(t)
	user := h.NewUser()
	require.True(t, h.Send([]*types.Keypair{user}, h.CreateIx(user.Pubkey)).Success)

	res := h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 2), h.IncreaseIx(user.Pubkey, 5))
	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, uint8(7), h.Count(user.Pubkey))

	res = h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 8), h.IncreaseIx(user.Pubkey, 250))
	require.False(t, res.Success)
	var ixErr *svm.InstructionError
	require.ErrorAs(t, res.Err, &ixErr)
	assert.Equal(t, 1, ixErr.Index)
	assert.ErrorIs(t, res.Err, svm.ArithmeticOverflow)
	assert.Equal(t, uint8(7), h.Count(user.Pubkey), "first increase is rolled back")
}

func TestCreateAndIncreaseInOneTransaction(t *testing.T) {
	h := countertest.New(t)
	user := h.NewUser()
	res := h.Send([]*types.Keypair{user}, h.CreateIx(user.Pubkey), h.IncreaseIx(user.Pubkey, 42))
	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, uint8(42), h.Count(user.Pubkey))
}

func TestCounterAddressBinding(t *testing.T) {
	h := countertest.New(t)
	user, other := h.NewUser(), h.NewUser()
	require.True(t, h.Send([]*types.Keypair{other}, h.CreateIx(other.Pubkey)).Success)

	// user's instruction pointed at other's counter
	create := h.CreateIx(user.Pubkey)
	create.Accounts[counter.AccountCounter].Pubkey = h.CounterAddress(other.Pubkey)
	res := h.Send([]*types.Keypair{user}, create)
	assert.ErrorIs(t, res.Err, svm.InvalidArgument)

	increase := h.IncreaseIx(user.Pubkey, 1)
	increase.Accounts[counter.AccountCounter].Pubkey = h.CounterAddress(other.Pubkey)
	res = h.Send([]*types.Keypair{user}, increase)
	assert.ErrorIs(t, res.Err, svm.InvalidArgument)
	assert.Equal(t, uint8(0), h.Count(other.Pubkey))

	// an arbitrary address
	create = h.CreateIx(user.Pubkey)
	create.Accounts[counter.AccountCounter].Pubkey = h.NewUser().Pubkey
	res = h.Send([]*types.Keypair{user}, create)
	assert.ErrorIs(t, res.Err, svm.InvalidArgument)
}

func TestCounterUnderDifferentProgramID(t *testing.T) {
	h := countertest.New(t)
	h.ProgramID = types.MustPubkeyFromBase58("Counter2Program1111111111111111111111111111")
	h.Runtime.RegisterProgram(h.ProgramID, counter.NewProcessor())
	user := h.NewUser()

	res := h.Send([]*types.Keypair{user}, h.CreateIx(user.Pubkey), h.IncreaseIx(user.Pubkey, 3))
	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, uint8(3), h.Count(user.Pubkey))

	expected, _, err := counter.DeriveAddress(counter.ProgramID, user.Pubkey)
	require.NoError(t, err)
	assert.NotEqual(t, expected, h.CounterAddress(user.Pubkey))
}

func TestIncreaseUninitializedCounter(t *testing.T) {
	h := countertest.New(t)
	user := h.NewUser()
	res := h.Send([]*types.Keypair{user}, h.IncreaseIx(user.Pubkey, 1))
	assert.ErrorIs(t, res.Err, svm.IncorrectProgramId)
	assert.Nil(t, h.Account(h.CounterAddress(user.Pubkey)))
}

func TestCreateCounterInsufficientFunds(t *testing.T) {
	h := countertest.New(t)
	user := h.NewUser()
	poor := h.NewUser()
	require.NoError(t, h.DB.SetAccount(poor.Pubkey, &accounts.Account{Lamports: 1_000, Owner: types.SystemProgramAddr}))

	ix, err := counter.CreateCounterInstruction(h.ProgramID, user.Pubkey, poor.Pubkey)
	require.NoError(t, err)
	res := h.Send([]*types.Keypair{user, poor}, ix)
	assert.ErrorIs(t, res.Err, svm.InsufficientFunds)
	assert.Nil(t, h.Account(h.CounterAddress(user.Pubkey)))
}

func TestAccountValidation(t *testing.T) {
	h := countertest.New(t)
	user := h.NewUser()
	require.True(t, h.Send([]*types.Keypair{user}, h.CreateIx(user.Pubkey)).Success)

	extraPayer := h.NewUser()
	require.NoError(t, h.DB.SetAccount(extraPayer.Pubkey, &accounts.Account{
		Lamports: h.Rent.MinimumBalance(0) * 10,
		Owner:    types.SystemProgramAddr,
	}))

	tests := []struct {
		name    string
		ix      func() svm.Instruction
		signers []*types.Keypair
		want    svm.ProgramError
	}{
		{
			name: "user not signer",
			ix: func() svm.Instruction {
				ix := h.IncreaseIx(user.Pubkey, 1)
				ix.Accounts[counter.AccountUser].IsSigner = false
				return ix
			},
			want: svm.MissingRequiredSignature,
		},
		{
			name: "user writable",
			ix: func() svm.Instruction {
				ix := h.IncreaseIx(user.Pubkey, 1)
				ix.Accounts[counter.AccountUser].IsWritable = true
				return ix
			},
			signers: []*types.Keypair{user},
			want:    svm.InvalidAccountData,
		},
		{
			name: "counter read-only",
			ix: func() svm.Instruction {
				ix := h.IncreaseIx(user.Pubkey, 1)
				ix.Accounts[counter.AccountCounter].IsWritable = false
				return ix
			},
			signers: []*types.Keypair{user},
			want:    svm.InvalidAccountData,
		},
		{
			name: "payer not signer",
			ix: func() svm.Instruction {
				ix, err := counter.IncreaseCounterInstruction(h.ProgramID, user.Pubkey, extraPayer.Pubkey, 1)
				require.NoError(t, err)
				ix.Accounts[counter.AccountPayer].IsSigner = false
				return ix
			},
			signers: []*types.Keypair{user},
			want:    svm.MissingRequiredSignature,
		},
		{
			name: "payer read-only",
			ix: func() svm.Instruction {
				ix, err := counter.IncreaseCounterInstruction(h.ProgramID, user.Pubkey, extraPayer.Pubkey, 1)
				require.NoError(t, err)
				ix.Accounts[counter.AccountPayer].IsWritable = false
				return ix
			},
			signers: []*types.Keypair{user, extraPayer},
			want:    svm.InvalidAccountData,
		},
		{
			name: "wrong system program",
			ix: func() svm.Instruction {
				ix := h.CreateIx(user.Pubkey)
				ix.Accounts[counter.AccountSystemProgram].Pubkey = h.ProgramID
				return ix
			},
			signers: []*types.Keypair{user},
			want:    svm.IncorrectProgramId,
		},
		{
			name: "missing system program",
			ix: func() svm.Instruction {
				ix := h.CreateIx(user.Pubkey)
				ix.Accounts = ix.Accounts[:counter.AccountSystemProgram]
				return ix
			},
			signers: []*types.Keypair{user},
			want:    svm.NotEnoughAccountKeys,
		},
		{
			name: "missing payer",
			ix: func() svm.Instruction {
				ix := h.IncreaseIx(user.Pubkey, 1)
				ix.Accounts = ix.Accounts[:counter.AccountPayer]
				return ix
			},
			signers: []*types.Keypair{user},
			want:    svm.NotEnoughAccountKeys,
		},
		{
			name: "unknown instruction",
			ix: func() svm.Instruction {
				ix := h.IncreaseIx(user.Pubkey, 1)
				ix.Data = []byte{7}
				return ix
			},
			signers: []*types.Keypair{user},
			want:    svm.InvalidInstructionData,
		},
		{
			name: "trailing bytes",
			ix: func() svm.Instruction {
				ix := h.IncreaseIx(user.Pubkey, 1)
				ix.Data = append(ix.Data, 0)
				return ix
			},
			signers: []*types.Keypair{user},
			want:    svm.InvalidInstructionData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Send(tt.signers, tt.ix())
			require.False(t, res.Success)
			assert.ErrorIs(t, res.Err, tt.want)
			assert.Equal(t, uint8(0), h.Count(user.Pubkey))
		})
	}
}

// stubContext serves fixed accounts to a processor without a runtime.
type stubContext struct {
	programID types.Pubkey
	accounts  []*svm.AccountInfo
	logs      []string
}

func (c *stubContext) ProgramID() types.Pubkey { return c.programID }
func (c *stubContext) NumAccounts() int        { return len(c.accounts) }
func (c *stubContext) Rent() types.Rent        { return types.DefaultRent() }
func (c *stubContext) Log(msg string)          { c.logs = append(c.logs, msg) }
func (c *stubContext) ConsumeCU(uint64) error  { return nil }
func (c *stubContext) StackHeight() int        { return 1 }

func (c *stubContext) Account(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(c.accounts) {
		return nil, svm.NotEnoughAccountKeys
	}
	return c.accounts[index], nil
}

func (c *stubContext) InvokeSigned(svm.Instruction, ...svm.SignerSeeds) error {
	return errors.New("unexpected invocation")
}

func TestCounterSignerRejected(t *testing.T) {
	programID := counter.ProgramID
	user := types.Pubkey{1}
	payer := types.Pubkey{2}
	addr, _, err := counter.DeriveAddress(programID, user)
	require.NoError(t, err)

	create, err := counter.CreateCounterInstruction(programID, user, payer)
	require.NoError(t, err)
	increase, err := counter.IncreaseCounterInstruction(programID, user, payer, 1)
	require.NoError(t, err)

	for _, ix := range []svm.Instruction{create, increase} {
		ctx := &stubContext{
			programID: programID,
			accounts: []*svm.AccountInfo{
				{Key: user, IsSigner: true, Account: &accounts.Account{Owner: types.SystemProgramAddr}},
				{Key: addr, IsSigner: true, IsWritable: true, Account: &accounts.Account{Owner: programID, Data: []byte{0}}},
				{Key: payer, IsSigner: true, IsWritable: true, Account: &accounts.Account{Lamports: 1_000_000_000, Owner: types.SystemProgramAddr}},
				{Key: types.SystemProgramAddr, Account: &accounts.Account{Owner: types.NativeLoaderAddr, Executable: true}},
			},
		}
		err := counter.NewProcessor().Process(ctx, ix.Data)
		assert.ErrorIs(t, err, svm.InvalidAccountData)
		assert.Equal(t, []byte{0}, ctx.accounts[counter.AccountCounter].Data)
	}
}
