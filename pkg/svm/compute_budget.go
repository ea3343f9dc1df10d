package svm

import (
	"encoding/binary"

	"github.com/fortiblox/x1-counter/internal/types"
)

// Compute budget instruction discriminants.
const (
	computeBudgetRequestHeapFrame    = 1
	computeBudgetSetComputeUnitLimit = 2
	computeBudgetSetComputeUnitPrice = 3
)

// SetComputeUnitLimit builds an instruction requesting a per-transaction
// compute unit limit.
func SetComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = computeBudgetSetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return Instruction{ProgramID: types.ComputeBudgetProgramAddr, Data: data}
}

// requestedComputeUnitLimit scans the message for a SetComputeUnitLimit
// request. Budget instructions are applied before execution, so a
// malformed one fails the transaction at its index.
func requestedComputeUnitLimit(msg *Message) (uint64, error) {
	var limit uint64
	for i, ix := range msg.Instructions {
		if msg.AccountKeys[ix.ProgramIDIndex] != types.ComputeBudgetProgramAddr {
			continue
		}
		if err := checkComputeBudgetData(ix.Data); err != nil {
			return 0, &InstructionError{Index: i, Err: err}
		}
		if ix.Data[0] == computeBudgetSetComputeUnitLimit {
			limit = uint64(binary.LittleEndian.Uint32(ix.Data[1:]))
		}
	}
	return limit, nil
}

func checkComputeBudgetData(data []byte) error {
	if len(data) == 0 {
		return InvalidInstructionData
	}
	want := map[byte]int{
		computeBudgetRequestHeapFrame:    5,
		computeBudgetSetComputeUnitLimit: 5,
		computeBudgetSetComputeUnitPrice: 9,
	}[data[0]]
	if want == 0 || len(data) != want {
		return InvalidInstructionData
	}
	return nil
}

// processComputeBudget runs when a budget instruction is reached during
// execution. Its effect was already applied at load time.
func processComputeBudget(ctx InvokeContext, data []byte) error {
	if err := checkComputeBudgetData(data); err != nil {
		return err
	}
	return ctx.ConsumeCU(CUComputeBudgetDefault)
}
