// Package countertest provides a program test harness for the counter
// program: a runtime with the System and counter programs registered, an
// in-memory account store and a funded payer.
package countertest

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/counter"
	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/svm/programs/system"
)

// PayerLamports is the starting balance of the harness payer.
const PayerLamports = uint64(100_000_000_000)

// Harness executes transactions against a fresh bank.
type Harness struct {
	t *testing.T

	Runtime   *svm.Runtime
	DB        *accounts.MemoryDB
	Rent      types.Rent
	ProgramID types.Pubkey
	Payer     *types.Keypair
}

// New returns a harness with the counter program deployed at
// counter.ProgramID.
func New(t *testing.T) *Harness {
	t.Helper()

	h := &Harness{
		t:         t,
		Runtime:   svm.NewRuntime(),
		DB:        accounts.NewMemoryDB(),
		Rent:      types.DefaultRent(),
		ProgramID: counter.ProgramID,
		Payer:     newKeypair(t),
	}
	h.Runtime.RegisterProgram(system.ProgramID, system.NewProcessor())
	h.Runtime.RegisterProgram(h.ProgramID, counter.NewProcessor())
	require.NoError(t, h.DB.SetAccount(h.Payer.Pubkey, &accounts.Account{
		Lamports: PayerLamports,
		Owner:    types.SystemProgramAddr,
	}))
	return h
}

func newKeypair(t *testing.T) *types.Keypair {
	t.Helper()
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	return kp
}

// NewUser returns a fresh user keypair. Users hold no lamports.
func (h *Harness) NewUser() *types.Keypair {
	return newKeypair(h.t)
}

// CounterAddress derives user's counter address.
func (h *Harness) CounterAddress(user types.Pubkey) types.Pubkey {
	addr, _, err := counter.DeriveAddress(h.ProgramID, user)
	require.NoError(h.t, err)
	return addr
}

// CreateIx builds a CreateCounter instruction paid by the harness payer.
func (h *Harness) CreateIx(user types.Pubkey) svm.Instruction {
	ix, err := counter.CreateCounterInstruction(h.ProgramID, user, h.Payer.Pubkey)
	require.NoError(h.t, err)
	return ix
}

// IncreaseIx builds an IncreaseCounter instruction paid by the harness
// payer.
func (h *Harness) IncreaseIx(user types.Pubkey, delta uint8) svm.Instruction {
	ix, err := counter.IncreaseCounterInstruction(h.ProgramID, user, h.Payer.Pubkey, delta)
	require.NoError(h.t, err)
	return ix
}

// Send signs ixs with the payer and signers, executes them as one
// transaction and commits the changes when it succeeds.
func (h *Harness) Send(signers []*types.Keypair, ixs ...svm.Instruction) *svm.ExecutionResult {
	h.t.Helper()

	tx, err := svm.NewTransaction(h.Payer.Pubkey, types.Hash{}, ixs...)
	require.NoError(h.t, err)
	require.NoError(h.t, tx.Sign(append([]*types.Keypair{h.Payer}, signers...)...))

	res, err := h.Runtime.Execute(context.Background(), tx, svm.Environment{Accounts: h.DB, Rent: h.Rent})
	require.NoError(h.t, err)
	if res.Success {
		require.NoError(h.t, h.DB.ApplyChanges(res.AccountChanges))
	}
	return res
}

// Account returns the committed account at key, or nil if it does not
// exist.
func (h *Harness) Account(key types.Pubkey) *accounts.Account {
	acc, err := h.DB.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil
	}
	require.NoError(h.t, err)
	return acc
}

// Count decodes user's committed counter.
func (h *Harness) Count(user types.Pubkey) uint8 {
	h.t.Helper()
	acc := h.Account(h.CounterAddress(user))
	require.NotNil(h.t, acc, "counter account missing")
	c, err := counter.DecodeCounter(acc.Data)
	require.NoError(h.t, err)
	return c.Count
}
