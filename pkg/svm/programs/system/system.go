// Package system implements the native System Program.
//
// The System Program owns every fresh account. It creates accounts and
// hands them to other programs, moves lamports between accounts it owns,
// and allocates data space. Instructions use the bincode layout: a u32
// little-endian discriminant followed by fixed-width fields.
package system

import (
	"encoding/binary"
	"fmt"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

// MaxPermittedDataLength is the largest space an account may be given.
const MaxPermittedDataLength = 10 * 1024 * 1024

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUSystemProgramDefault); err != nil {
		return err
	}
	if len(data) < 4 {
		return svm.InvalidInstructionData
	}

	args := data[4:]
	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, args)
	case InstructionAssign:
		return p.processAssign(ctx, args)
	case InstructionTransfer:
		return p.processTransfer(ctx, args)
	case InstructionAllocate:
		return p.processAllocate(ctx, args)
	default:
		return svm.InvalidInstructionData
	}
}

// processCreateAccount: [0] funder (signer, writable), [1] new account
// (signer, writable). Args: lamports u64, space u64, owner [32].
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, args []byte) error {
	if len(args) < 8+8+32 {
		return svm.InvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(args[0:8])
	space := binary.LittleEndian.Uint64(args[8:16])
	owner, _ := types.PubkeyFromBytes(args[16:48])

	from, err := ctx.Account(0)
	if err != nil {
		return err
	}
	to, err := ctx.Account(1)
	if err != nil {
		return err
	}

	if to.Lamports > 0 {
		ctx.Log(fmt.Sprintf("Create Account: account %s already in use", to.Key))
		return svm.AccountAlreadyInUse
	}
	if err := allocate(ctx, to, space); err != nil {
		return err
	}
	if err := assign(ctx, to, owner); err != nil {
		return err
	}
	return transfer(ctx, from, to, lamports)
}

// processAssign: [0] account (signer, writable). Args: owner [32].
func (p *Processor) processAssign(ctx svm.InvokeContext, args []byte) error {
	if len(args) < 32 {
		return svm.InvalidInstructionData
	}
	owner, _ := types.PubkeyFromBytes(args[:32])

	account, err := ctx.Account(0)
	if err != nil {
		return err
	}
	return assign(ctx, account, owner)
}

// processTransfer: [0] from (signer, writable), [1] to (writable).
// Args: lamports u64.
func (p *Processor) processTransfer(ctx svm.InvokeContext, args []byte) error {
	if len(args) < 8 {
		return svm.InvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(args[:8])

	from, err := ctx.Account(0)
	if err != nil {
		return err
	}
	to, err := ctx.Account(1)
	if err != nil {
		return err
	}
	return transfer(ctx, from, to, lamports)
}

// processAllocate: [0] account (signer, writable). Args: space u64.
func (p *Processor) processAllocate(ctx svm.InvokeContext, args []byte) error {
	if len(args) < 8 {
		return svm.InvalidInstructionData
	}
	space := binary.LittleEndian.Uint64(args[:8])

	account, err := ctx.Account(0)
	if err != nil {
		return err
	}
	return allocate(ctx, account, space)
}

func allocate(ctx svm.InvokeContext, account *svm.AccountInfo, space uint64) error {
	if !account.IsSigner {
		ctx.Log(fmt.Sprintf("Allocate: 'to' account %s must sign", account.Key))
		return svm.MissingRequiredSignature
	}
	if len(account.Data) > 0 || account.Owner != ProgramID {
		ctx.Log(fmt.Sprintf("Allocate: account %s already in use", account.Key))
		return svm.AccountAlreadyInUse
	}
	if space > MaxPermittedDataLength {
		ctx.Log(fmt.Sprintf("Allocate: requested %d, max allowed %d", space, MaxPermittedDataLength))
		return svm.InvalidRealloc
	}
	account.Data = make([]byte, space)
	return nil
}

func assign(ctx svm.InvokeContext, account *svm.AccountInfo, owner types.Pubkey) error {
	if account.Owner == owner {
		return nil
	}
	if !account.IsSigner {
		ctx.Log(fmt.Sprintf("Assign: account %s must sign", account.Key))
		return svm.MissingRequiredSignature
	}
	account.Owner = owner
	return nil
}

func transfer(ctx svm.InvokeContext, from, to *svm.AccountInfo, lamports uint64) error {
	if !from.IsSigner {
		ctx.Log(fmt.Sprintf("Transfer: `from` account %s must sign", from.Key))
		return svm.MissingRequiredSignature
	}
	if len(from.Data) > 0 {
		ctx.Log("Transfer: `from` must not carry data")
		return svm.InvalidArgument
	}
	if from.Lamports < lamports {
		ctx.Log(fmt.Sprintf("Transfer: insufficient lamports %d, need %d", from.Lamports, lamports))
		return svm.InsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return svm.ArithmeticOverflow
	}
	from.Lamports -= lamports
	to.Lamports += lamports
	return nil
}

// CreateAccount builds a CreateAccount instruction.
func CreateAccount(from, to types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4, 4+8+8+32)
	binary.LittleEndian.PutUint32(data, InstructionCreateAccount)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	data = binary.LittleEndian.AppendUint64(data, space)
	data = append(data, owner[:]...)
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewWritableAccountMeta(from, true),
			svm.NewWritableAccountMeta(to, true),
		},
		Data: data,
	}
}

// Assign builds an Assign instruction.
func Assign(account, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4, 4+32)
	binary.LittleEndian.PutUint32(data, InstructionAssign)
	data = append(data, owner[:]...)
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewWritableAccountMeta(account, true)},
		Data:      data,
	}
}

// Transfer builds a Transfer instruction.
func Transfer(from, to types.Pubkey, lamports uint64) svm.Instruction {
	data := make([]byte, 4, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionTransfer)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewWritableAccountMeta(from, true),
			svm.NewWritableAccountMeta(to, false),
		},
		Data: data,
	}
}

// Allocate builds an Allocate instruction.
func Allocate(account types.Pubkey, space uint64) svm.Instruction {
	data := make([]byte, 4, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionAllocate)
	data = binary.LittleEndian.AppendUint64(data, space)
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewWritableAccountMeta(account, true)},
		Data:      data,
	}
}
