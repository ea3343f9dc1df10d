package counter

import (
	"fmt"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

// Account positions shared by both instructions.
const (
	AccountUser = iota
	AccountCounter
	AccountPayer
	AccountSystemProgram
)

// counterAccounts are the accounts of a counter instruction after their
// roles have been checked. System is nil for IncreaseCounter.
type counterAccounts struct {
	User    *svm.AccountInfo
	Counter *svm.AccountInfo
	Payer   *svm.AccountInfo
	System  *svm.AccountInfo
}

func loadAccounts(ctx svm.InvokeContext, withSystem bool) (*counterAccounts, error) {
	want := AccountPayer + 1
	if withSystem {
		want = AccountSystemProgram + 1
	}
	if ctx.NumAccounts() < want {
		return nil, svm.NotEnoughAccountKeys
	}

	accs := &counterAccounts{}
	var err error
	if accs.User, err = ctx.Account(AccountUser); err != nil {
		return nil, err
	}
	if accs.Counter, err = ctx.Account(AccountCounter); err != nil {
		return nil, err
	}
	if accs.Payer, err = ctx.Account(AccountPayer); err != nil {
		return nil, err
	}
	if withSystem {
		if accs.System, err = ctx.Account(AccountSystemProgram); err != nil {
			return nil, err
		}
	}
	if err := accs.validate(); err != nil {
		return nil, err
	}
	return accs, nil
}

func (a *counterAccounts) validate() error {
	if a.User.IsWritable {
		return svm.InvalidAccountData
	}
	if !a.User.IsSigner {
		return svm.MissingRequiredSignature
	}

	if !a.Payer.IsSigner {
		return svm.MissingRequiredSignature
	}
	if !a.Payer.IsWritable {
		return svm.InvalidAccountData
	}

	if a.Counter.IsSigner || !a.Counter.IsWritable {
		return svm.InvalidAccountData
	}

	if a.System != nil && a.System.Key != types.SystemProgramAddr {
		return svm.IncorrectProgramId
	}
	return nil
}

// checkAddress derives the user's counter address and compares it with
// the supplied counter account. It returns the bump on a match.
func checkAddress(ctx svm.InvokeContext, accs *counterAccounts) (uint8, error) {
	expected, bump, err := DeriveAddress(ctx.ProgramID(), accs.User.Key)
	if err != nil {
		return 0, err
	}
	if err := ctx.ConsumeCU(svm.FindProgramAddressCost(bump)); err != nil {
		return 0, err
	}
	if accs.Counter.Key != expected {
		ctx.Log(fmt.Sprintf("Counter account %s does not match derived address %s", accs.Counter.Key, expected))
		return 0, svm.InvalidArgument
	}
	return bump, nil
}
