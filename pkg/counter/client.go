package counter

import (
	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

// CreateCounterInstruction builds a CreateCounter instruction for user's
// counter, funded by payer.
func CreateCounterInstruction(programID, user, payer types.Pubkey) (svm.Instruction, error) {
	counter, _, err := DeriveAddress(programID, user)
	if err != nil {
		return svm.Instruction{}, err
	}
	data, err := Instruction{Kind: KindCreateCounter}.Marshal()
	if err != nil {
		return svm.Instruction{}, err
	}
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.NewReadonlyAccountMeta(user, true),
			svm.NewWritableAccountMeta(counter, false),
			svm.NewWritableAccountMeta(payer, true),
			svm.NewReadonlyAccountMeta(types.SystemProgramAddr, false),
		},
		Data: data,
	}, nil
}

// IncreaseCounterInstruction builds an IncreaseCounter instruction adding
// delta to user's counter.
func IncreaseCounterInstruction(programID, user, payer types.Pubkey, delta uint8) (svm.Instruction, error) {
	counter, _, err := DeriveAddress(programID, user)
	if err != nil {
		return svm.Instruction{}, err
	}
	data, err := Instruction{Kind: KindIncreaseCounter, Delta: delta}.Marshal()
	if err != nil {
		return svm.Instruction{}, err
	}
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.NewReadonlyAccountMeta(user, true),
			svm.NewWritableAccountMeta(counter, false),
			svm.NewWritableAccountMeta(payer, true),
		},
		Data: data,
	}, nil
}
