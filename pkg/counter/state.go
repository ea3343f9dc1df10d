package counter

import (
	"github.com/near/borsh-go"

	"github.com/fortiblox/x1-counter/pkg/svm"
)

// CounterSize is the length of a counter account's data.
const CounterSize = 1

// Counter is the state stored in a counter account.
type Counter struct {
	Count uint8
}

// Encode serializes c into its account layout.
func (c Counter) Encode() ([]byte, error) {
	b, err := borsh.Serialize(c)
	if err != nil {
		return nil, err
	}
	if len(b) != CounterSize {
		return nil, svm.InvalidAccountData
	}
	return b, nil
}

// DecodeCounter parses counter account data. Anything other than exactly
// CounterSize bytes is InvalidAccountData.
func DecodeCounter(data []byte) (Counter, error) {
	if len(data) != CounterSize {
		return Counter{}, svm.InvalidAccountData
	}
	var c Counter
	if err := borsh.Deserialize(&c, data); err != nil {
		return Counter{}, svm.InvalidAccountData
	}
	return c, nil
}

// Add returns c increased by delta. ok is false when the result does not
// fit in a u8.
func (c Counter) Add(delta uint8) (Counter, bool) {
	sum := c.Count + delta
	if sum < c.Count {
		return c, false
	}
	return Counter{Count: sum}, true
}
