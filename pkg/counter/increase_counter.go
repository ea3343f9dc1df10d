package counter

import (
	"fmt"

	"github.com/fortiblox/x1-counter/pkg/svm"
)

func processIncreaseCounter(ctx svm.InvokeContext, delta uint8) error {
	accs, err := loadAccounts(ctx, false)
	if err != nil {
		return err
	}
	if _, err := checkAddress(ctx, accs); err != nil {
		return err
	}
	if accs.Counter.Owner != ctx.ProgramID() {
		return svm.IncorrectProgramId
	}

	counter, err := DecodeCounter(accs.Counter.Data)
	if err != nil {
		return err
	}
	next, ok := counter.Add(delta)
	if !ok {
		ctx.Log(fmt.Sprintf("Counter overflow: %d + %d", counter.Count, delta))
		return svm.ArithmeticOverflow
	}
	data, err := next.Encode()
	if err != nil {
		return err
	}
	copy(accs.Counter.Data, data)

	ctx.Log(fmt.Sprintf("Counter incremented by %d, new value: %d", delta, next.Count))
	return nil
}
