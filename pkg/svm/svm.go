// Package svm is the host runtime that executes transactions against
// native programs.
//
// A transaction runs on a working copy of every account it references.
// Instructions execute in order and each sees the writes of the ones before
// it. After every invocation the runtime checks the host rules (only the
// owner may debit an account or change its data, read-only accounts stay
// unchanged, lamports are conserved). The working copy is returned as a set
// of account changes only when every instruction succeeded; the caller
// decides whether to commit them.
//
// Signature verification and fee collection are the caller's concern. The
// runtime trusts the message header for signer and writable flags.
package svm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
)

// AccountLoader reads committed account state.
type AccountLoader interface {
	GetAccount(pubkey types.Pubkey) (*accounts.Account, error)
}

// Environment is the bank state a transaction executes against.
type Environment struct {
	Accounts AccountLoader
	Rent     types.Rent

	// ComputeUnitLimit overrides the default per-transaction limit when
	// non-zero. A SetComputeUnitLimit instruction overrides both.
	ComputeUnitLimit uint64
}

// ExecutionResult is the outcome of executing one transaction.
type ExecutionResult struct {
	Success bool

	// Err is an *InstructionError, an *InsufficientFundsForRentError or a
	// compute budget error. Nil on success.
	Err error

	Logs                 []string
	ComputeUnitsConsumed uint64

	// ModifiedAccounts lists the keys of AccountChanges in ascending order.
	ModifiedAccounts []types.Pubkey

	// AccountChanges holds the post-state of every account the transaction
	// changed. Empty unless Success.
	AccountChanges map[types.Pubkey]*accounts.Account
}

// Runtime executes transactions against registered native programs.
type Runtime struct {
	mu       sync.RWMutex
	programs map[types.Pubkey]Program
}

// NewRuntime returns a runtime with the compute budget program registered.
func NewRuntime() *Runtime {
	r := &Runtime{programs: make(map[types.Pubkey]Program)}
	r.RegisterProgram(types.ComputeBudgetProgramAddr, ProgramFunc(processComputeBudget))
	return r
}

// RegisterProgram binds id to p, replacing any earlier registration.
func (r *Runtime) RegisterProgram(id types.Pubkey, p Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[id] = p
}

func (r *Runtime) program(id types.Pubkey) (Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[id]
	return p, ok
}

type txAccount struct {
	key      types.Pubkey
	signer   bool
	writable bool
	loaded   *accounts.Account
	account  *accounts.Account
}

type transactionContext struct {
	runtime  *Runtime
	accounts []*txAccount
	index    map[types.Pubkey]int
	meter    *ComputeMeter
	rent     types.Rent
	logs     []string
}

func (tc *transactionContext) log(line string) {
	tc.logs = append(tc.logs, line)
}

// Execute runs tx. The returned error is non-nil only when the transaction
// could not be executed at all (malformed message, storage failure,
// cancelled context); program failures are reported in the result.
func (r *Runtime) Execute(ctx context.Context, tx *Transaction, env Environment) (*ExecutionResult, error) {
	msg := &tx.Message
	if err := msg.Sanitize(); err != nil {
		return nil, err
	}

	limit, budgetErr := requestedComputeUnitLimit(msg)
	if limit == 0 {
		limit = env.ComputeUnitLimit
	}
	if limit == 0 {
		limit = DefaultComputeUnitLimit(len(msg.Instructions))
	}

	tc := &transactionContext{
		runtime: r,
		index:   make(map[types.Pubkey]int, len(msg.AccountKeys)),
		meter:   NewComputeMeter(limit),
		rent:    env.Rent,
	}
	if err := tc.load(msg, env.Accounts); err != nil {
		return nil, err
	}

	result := &ExecutionResult{}
	if budgetErr != nil {
		result.Err = budgetErr
	}
	for i := 0; result.Err == nil && i < len(msg.Instructions); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := tc.processInstruction(&msg.Instructions[i]); err != nil {
			result.Err = &InstructionError{Index: i, Err: err}
		}
	}
	if result.Err == nil {
		result.Err = tc.checkRentState()
	}

	result.Logs = tc.logs
	result.ComputeUnitsConsumed = tc.meter.Consumed()
	result.Success = result.Err == nil
	if result.Success {
		result.AccountChanges = tc.changes()
		for k := range result.AccountChanges {
			result.ModifiedAccounts = append(result.ModifiedAccounts, k)
		}
		accounts.SortPubkeys(result.ModifiedAccounts)
	}
	return result, nil
}

// load reads every message account. Missing accounts start out empty and
// owned by the System Program.
func (tc *transactionContext) load(msg *Message, loader AccountLoader) error {
	for i, key := range msg.AccountKeys {
		acc, err := loader.GetAccount(key)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			acc = &accounts.Account{Owner: types.SystemProgramAddr}
		} else if err != nil {
			return errors.Wrapf(err, "load account %s", key)
		}
		tc.index[key] = i
		tc.accounts = append(tc.accounts, &txAccount{
			key:      key,
			signer:   msg.IsSigner(i),
			writable: msg.IsWritable(i),
			loaded:   acc.Clone(),
			account:  acc,
		})
	}
	return nil
}

func (tc *transactionContext) processInstruction(cix *CompiledInstruction) error {
	inv := &invocation{
		tc:        tc,
		programID: tc.accounts[cix.ProgramIDIndex].key,
		height:    1,
	}
	for _, idx := range cix.AccountIndexes {
		a := tc.accounts[idx]
		inv.accounts = append(inv.accounts, &AccountInfo{
			Key:        a.key,
			IsSigner:   a.signer,
			IsWritable: a.writable,
			Account:    a.account,
		})
		inv.txIndexes = append(inv.txIndexes, int(idx))
	}

	err := inv.run(cix.Data)
	tc.log(fmt.Sprintf("Program %s consumed %d of %d compute units",
		inv.programID, tc.meter.Consumed(), tc.meter.Limit()))
	return err
}

// checkRentState rejects transactions that leave a changed account funded
// but below the rent exempt minimum. An account already below the minimum
// may stay there as long as its size is unchanged and it is not credited.
func (tc *transactionContext) checkRentState() error {
	for i, a := range tc.accounts {
		if !a.writable || !changed(a.loaded, a.account) {
			continue
		}
		post := a.account
		if post.Lamports == 0 || tc.rent.IsExempt(post.Lamports, uint64(len(post.Data))) {
			continue
		}
		pre := a.loaded
		preRentPaying := pre.Lamports > 0 && !tc.rent.IsExempt(pre.Lamports, uint64(len(pre.Data)))
		if preRentPaying && len(pre.Data) == len(post.Data) && post.Lamports <= pre.Lamports {
			continue
		}
		return &InsufficientFundsForRentError{AccountIndex: i}
	}
	return nil
}

func (tc *transactionContext) changes() map[types.Pubkey]*accounts.Account {
	out := make(map[types.Pubkey]*accounts.Account)
	for _, a := range tc.accounts {
		if a.writable && changed(a.loaded, a.account) {
			out[a.key] = a.account.Clone()
		}
	}
	return out
}

func changed(pre, post *accounts.Account) bool {
	return pre.Lamports != post.Lamports ||
		pre.Owner != post.Owner ||
		pre.Executable != post.Executable ||
		pre.RentEpoch != post.RentEpoch ||
		string(pre.Data) != string(post.Data)
}
