package counter

import (
	"github.com/near/borsh-go"

	"github.com/fortiblox/x1-counter/pkg/svm"
)

// Kind selects an instruction variant. The value is the leading tag byte
// of the encoded instruction.
type Kind uint8

const (
	KindCreateCounter   Kind = 0
	KindIncreaseCounter Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindCreateCounter:
		return "CreateCounter"
	case KindIncreaseCounter:
		return "IncreaseCounter"
	default:
		return "Unknown"
	}
}

// Instruction is a decoded counter instruction. Delta is only meaningful
// for KindIncreaseCounter.
type Instruction struct {
	Kind  Kind
	Delta uint8
}

type increaseArgs struct {
	Delta uint8
}

// Marshal encodes the instruction as a tag byte followed by the variant's
// fields.
func (ix Instruction) Marshal() ([]byte, error) {
	switch ix.Kind {
	case KindCreateCounter:
		return []byte{byte(KindCreateCounter)}, nil
	case KindIncreaseCounter:
		args, err := borsh.Serialize(increaseArgs{Delta: ix.Delta})
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(KindIncreaseCounter)}, args...), nil
	default:
		return nil, svm.InvalidInstructionData
	}
}

// UnmarshalInstruction decodes data. Unknown tags, truncated fields and
// trailing bytes are rejected with InvalidInstructionData.
func UnmarshalInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return Instruction{}, svm.InvalidInstructionData
	}
	switch Kind(data[0]) {
	case KindCreateCounter:
		if len(data) != 1 {
			return Instruction{}, svm.InvalidInstructionData
		}
		return Instruction{Kind: KindCreateCounter}, nil
	case KindIncreaseCounter:
		if len(data) != 2 {
			return Instruction{}, svm.InvalidInstructionData
		}
		var args increaseArgs
		if err := borsh.Deserialize(&args, data[1:]); err != nil {
			return Instruction{}, svm.InvalidInstructionData
		}
		return Instruction{Kind: KindIncreaseCounter, Delta: args.Delta}, nil
	default:
		return Instruction{}, svm.InvalidInstructionData
	}
}
