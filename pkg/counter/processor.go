// Package counter implements the counter program: every user owns one
// u8 counter stored at an address derived from the user's key.
//
// The program takes two instructions. CreateCounter allocates and funds
// the counter account through the System Program and sets it to zero.
// IncreaseCounter adds a delta, failing on overflow.
//
// Accounts, in order:
//
//	CreateCounter:   [user (signer), counter (writable), payer (signer, writable), system program]
//	IncreaseCounter: [user (signer), counter (writable), payer (signer, writable)]
package counter

import (
	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

// ProgramID is the default address the counter program is deployed at.
var ProgramID = types.CounterProgramAddr

// Processor dispatches counter instructions.
type Processor struct{}

// NewProcessor creates a counter program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process decodes data and runs the matching handler.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUCounterProgramBase); err != nil {
		return err
	}
	ix, err := UnmarshalInstruction(data)
	if err != nil {
		return err
	}
	ctx.Log("Instruction: " + ix.Kind.String())

	switch ix.Kind {
	case KindCreateCounter:
		return processCreateCounter(ctx)
	case KindIncreaseCounter:
		return processIncreaseCounter(ctx, ix.Delta)
	default:
		return svm.InvalidInstructionData
	}
}
