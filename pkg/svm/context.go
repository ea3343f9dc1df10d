package svm

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
)

// AccountInfo is one account as seen by an executing program.
//
// The embedded Account is the transaction's working copy and is shared by
// every invocation in the transaction, so a callee's writes are visible to
// its caller. The signer and writable flags belong to this invocation.
type AccountInfo struct {
	Key        types.Pubkey
	IsSigner   bool
	IsWritable bool
	*accounts.Account
}

// InvokeContext is the environment of a single program invocation.
type InvokeContext interface {
	// ProgramID is the id of the executing program.
	ProgramID() types.Pubkey

	// NumAccounts is the number of accounts passed to the instruction.
	NumAccounts() int

	// Account returns the instruction account at index, or
	// NotEnoughAccountKeys.
	Account(index int) (*AccountInfo, error)

	// Rent returns the rent parameters in effect.
	Rent() types.Rent

	// Log appends a program log line.
	Log(msg string)

	// ConsumeCU charges compute units against the transaction budget.
	ConsumeCU(units uint64) error

	// StackHeight is 1 for a top-level instruction and grows by one per
	// nested invocation.
	StackHeight() int

	// InvokeSigned runs ix as a nested invocation. Each SignerSeeds value
	// grants signer privilege to the address it derives under the calling
	// program's id.
	InvokeSigned(ix Instruction, signers ...SignerSeeds) error
}

// Program processes instructions addressed to one program id.
type Program interface {
	Process(ctx InvokeContext, data []byte) error
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx InvokeContext, data []byte) error

// Process calls f.
func (f ProgramFunc) Process(ctx InvokeContext, data []byte) error {
	return f(ctx, data)
}

type preAccount struct {
	txIndex    int
	writable   bool
	lamports   uint64
	data       []byte
	owner      types.Pubkey
	executable bool
}

// invocation implements InvokeContext.
type invocation struct {
	tc        *transactionContext
	programID types.Pubkey
	accounts  []*AccountInfo
	txIndexes []int
	height    int
	pre       []preAccount
}

func (inv *invocation) ProgramID() types.Pubkey { return inv.programID }

func (inv *invocation) NumAccounts() int { return len(inv.accounts) }

func (inv *invocation) Account(index int) (*AccountInfo, error) {
	if index < 0 || index >= len(inv.accounts) {
		return nil, NotEnoughAccountKeys
	}
	return inv.accounts[index], nil
}

func (inv *invocation) Rent() types.Rent { return inv.tc.rent }

func (inv *invocation) Log(msg string) {
	inv.tc.log("Program log: " + msg)
}

func (inv *invocation) ConsumeCU(units uint64) error {
	return inv.tc.meter.Consume(units)
}

func (inv *invocation) StackHeight() int { return inv.height }

func (inv *invocation) InvokeSigned(ix Instruction, signers ...SignerSeeds) error {
	if inv.height >= MaxInvokeStackHeight {
		return CallDepth
	}
	if err := inv.ConsumeCU(CUInvokeBase); err != nil {
		return err
	}
	if _, ok := inv.tc.index[ix.ProgramID]; !ok {
		return MissingAccount
	}

	pdaSigners := make(map[types.Pubkey]struct{}, len(signers))
	for _, seeds := range signers {
		addr, err := CreateProgramAddress(seeds, inv.programID)
		if err != nil {
			return err
		}
		pdaSigners[addr] = struct{}{}
	}

	callee := &invocation{
		tc:        inv.tc,
		programID: ix.ProgramID,
		height:    inv.height + 1,
	}
	for _, meta := range ix.Accounts {
		pos := inv.find(meta.Pubkey)
		if pos < 0 {
			return MissingAccount
		}
		caller := inv.accounts[pos]
		if meta.IsWritable && !caller.IsWritable {
			return PrivilegeEscalation
		}
		if meta.IsSigner && !caller.IsSigner {
			if _, ok := pdaSigners[meta.Pubkey]; !ok {
				return PrivilegeEscalation
			}
		}
		callee.accounts = append(callee.accounts, &AccountInfo{
			Key:        meta.Pubkey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			Account:    caller.Account,
		})
		callee.txIndexes = append(callee.txIndexes, inv.txIndexes[pos])
	}

	// The caller answers for its own writes up to this point; the callee's
	// writes are checked against the callee.
	if err := inv.verify(); err != nil {
		return err
	}
	if err := callee.run(ix.Data); err != nil {
		return err
	}
	inv.pre = inv.snapshot()
	return nil
}

func (inv *invocation) find(key types.Pubkey) int {
	for i, a := range inv.accounts {
		if a.Key == key {
			return i
		}
	}
	return -1
}

// run dispatches to the registered program and checks its writes.
func (inv *invocation) run(data []byte) (err error) {
	tc := inv.tc
	tc.log(fmt.Sprintf("Program %s invoke [%d]", inv.programID, inv.height))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("program panicked: %v", r)
		}
		if err != nil {
			tc.log(fmt.Sprintf("Program %s failed: %s", inv.programID, err))
			return
		}
		tc.log(fmt.Sprintf("Program %s success", inv.programID))
	}()

	program, ok := tc.runtime.program(inv.programID)
	if !ok {
		return IncorrectProgramId
	}

	inv.pre = inv.snapshot()
	if err := program.Process(inv, data); err != nil {
		return err
	}
	return inv.verify()
}

// snapshot records the state of each distinct account of the invocation.
func (inv *invocation) snapshot() []preAccount {
	pre := make([]preAccount, 0, len(inv.accounts))
	seen := make(map[int]int, len(inv.accounts))
	for i, info := range inv.accounts {
		idx := inv.txIndexes[i]
		if j, ok := seen[idx]; ok {
			pre[j].writable = pre[j].writable || info.IsWritable
			continue
		}
		seen[idx] = len(pre)
		pre = append(pre, preAccount{
			txIndex:    idx,
			writable:   info.IsWritable,
			lamports:   info.Lamports,
			data:       append([]byte(nil), info.Data...),
			owner:      info.Owner,
			executable: info.Executable,
		})
	}
	return pre
}

// verify enforces the host's rules on what the program changed since the
// last snapshot.
func (inv *invocation) verify() error {
	var preHi, preLo, postHi, postLo uint64
	for _, pre := range inv.pre {
		post := inv.tc.accounts[pre.txIndex].account
		owned := pre.owner == inv.programID

		if post.Owner != pre.owner {
			if !pre.writable || !owned || pre.executable || !isZeroed(post.Data) {
				return ModifiedProgramId
			}
		}
		if post.Executable != pre.executable {
			return ExecutableModified
		}
		if post.Lamports < pre.lamports && !owned {
			return ExternalAccountLamportSpend
		}
		if post.Lamports != pre.lamports {
			if !pre.writable {
				return ReadonlyLamportChange
			}
			if pre.executable {
				return ExecutableLamportChange
			}
		}
		if !bytes.Equal(pre.data, post.Data) {
			if pre.executable {
				return ExecutableDataModified
			}
			if !pre.writable {
				return ReadonlyDataModified
			}
			if !owned {
				return ExternalAccountDataModified
			}
		}

		var carry uint64
		preLo, carry = bits.Add64(preLo, pre.lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, post.Lamports, 0)
		postHi += carry
	}
	if preHi != postHi || preLo != postLo {
		return UnbalancedInstruction
	}
	return nil
}

func isZeroed(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

var _ InvokeContext = (*invocation)(nil)
