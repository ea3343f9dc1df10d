package counter

import (
	"fmt"

	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/svm/programs/system"
)

func processCreateCounter(ctx svm.InvokeContext) error {
	accs, err := loadAccounts(ctx, true)
	if err != nil {
		return err
	}
	bump, err := checkAddress(ctx, accs)
	if err != nil {
		return err
	}

	lamports := ctx.Rent().MinimumBalance(CounterSize)
	ctx.Log(fmt.Sprintf("Space: %d", CounterSize))
	ctx.Log(fmt.Sprintf("Lamports: %d", lamports))
	create := system.CreateAccount(accs.Payer.Key, accs.Counter.Key, lamports, CounterSize, ctx.ProgramID())
	if err := ctx.InvokeSigned(create, signerSeeds(accs.User.Key, bump)); err != nil {
		return err
	}

	data, err := Counter{}.Encode()
	if err != nil {
		return err
	}
	copy(accs.Counter.Data, data)

	ctx.Log("Counter account created successfully!")
	return nil
}
