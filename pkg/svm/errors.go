package svm

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProgramError is an error returned by a program (or by the runtime on a
// program's behalf) while processing one instruction. Values are comparable,
// so callers match them with errors.Is.
type ProgramError uint32

const (
	InvalidArgument ProgramError = iota + 1
	InvalidInstructionData
	InvalidAccountData
	AccountDataTooSmall
	InsufficientFunds
	IncorrectProgramId
	MissingRequiredSignature
	AccountAlreadyInitialized
	UninitializedAccount
	UnbalancedInstruction
	ModifiedProgramId
	ExternalAccountLamportSpend
	ExternalAccountDataModified
	ReadonlyLamportChange
	ReadonlyDataModified
	ExecutableDataModified
	ExecutableLamportChange
	ExecutableModified
	NotEnoughAccountKeys
	MissingAccount
	PrivilegeEscalation
	CallDepth
	ArithmeticOverflow
	ComputationalBudgetExceeded
	MaxSeedLengthExceeded
	InvalidSeeds
	InvalidRealloc
	AccountAlreadyInUse
)

var programErrorMessages = map[ProgramError]string{
	InvalidArgument:             "invalid program argument",
	InvalidInstructionData:      "invalid instruction data",
	InvalidAccountData:          "invalid account data for instruction",
	AccountDataTooSmall:         "account data too small for instruction",
	InsufficientFunds:           "insufficient funds for instruction",
	IncorrectProgramId:          "incorrect program id for instruction",
	MissingRequiredSignature:    "missing required signature for instruction",
	AccountAlreadyInitialized:   "instruction requires an uninitialized account",
	UninitializedAccount:        "instruction requires an initialized account",
	UnbalancedInstruction:       "sum of account balances before and after instruction do not match",
	ModifiedProgramId:           "instruction illegally modified the program id of an account",
	ExternalAccountLamportSpend: "instruction spent from the balance of an account it does not own",
	ExternalAccountDataModified: "instruction modified data of an account it does not own",
	ReadonlyLamportChange:       "instruction changed the balance of a read-only account",
	ReadonlyDataModified:        "instruction modified data of a read-only account",
	ExecutableDataModified:      "instruction changed executable accounts data",
	ExecutableLamportChange:     "instruction changed the balance of an executable account",
	ExecutableModified:          "instruction changed executable bit of an account",
	NotEnoughAccountKeys:        "insufficient account keys for instruction",
	MissingAccount:              "An account required by the instruction is missing",
	PrivilegeEscalation:         "Cross-program invocation with unauthorized signer or writable account",
	CallDepth:                   "Cross-program invocation call depth too deep",
	ArithmeticOverflow:          "Program arithmetic overflowed",
	ComputationalBudgetExceeded: "Computational budget exceeded",
	MaxSeedLengthExceeded:       "Length of the seed is too long for address generation",
	InvalidSeeds:                "Provided seeds do not result in a valid address",
	InvalidRealloc:              "Failed to reallocate account data",
	AccountAlreadyInUse:         "an account with the same address already exists",
}

func (e ProgramError) Error() string {
	if msg, ok := programErrorMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("program error %d", uint32(e))
}

// InstructionError attributes a failure to the instruction at Index.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("Error processing Instruction %d: %s", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// Transaction-level failures. These are raised before or after instruction
// processing and never carry an instruction index.
var (
	ErrAccountNotFound         = errors.New("Attempt to debit an account but found no record of a prior credit.")
	ErrInsufficientFundsForFee = errors.New("Insufficient funds for fee")
	ErrBlockhashNotFound       = errors.New("Blockhash not found")
	ErrAlreadyProcessed        = errors.New("This transaction has already been processed")
	ErrSignatureFailure        = errors.New("Transaction did not pass signature verification")
	ErrSanitizeFailure         = errors.New("Transaction failed to sanitize accounts offsets correctly")
	ErrTooManyAccountLocks     = errors.New("Transaction locked too many accounts")
)

// InsufficientFundsForRentError reports an account left below the rent
// exempt minimum by a transaction.
type InsufficientFundsForRentError struct {
	AccountIndex int
}

func (e *InsufficientFundsForRentError) Error() string {
	return fmt.Sprintf("Transaction results in an account (%d) with insufficient funds for rent", e.AccountIndex)
}

// AsProgramError extracts the ProgramError carried by err, if any.
func AsProgramError(err error) (ProgramError, bool) {
	var pe ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return 0, false
}
