package types

// Rent defaults, matching the Solana genesis configuration.
const (
	// AccountStorageOverhead is the per-account byte overhead charged on top
	// of the account's data length.
	AccountStorageOverhead = uint64(128)

	DefaultLamportsPerByteYear = uint64(3480)
	DefaultExemptionThreshold  = 2.0
	DefaultBurnPercent         = uint8(50)
)

// Rent holds the parameters used to compute rent-exempt balances.
type Rent struct {
	LamportsPerByteYear uint64  `json:"lamportsPerByteYear"`
	ExemptionThreshold  float64 `json:"exemptionThreshold"`
	BurnPercent         uint8   `json:"burnPercent"`
}

// DefaultRent returns the standard rent parameters.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
		BurnPercent:         DefaultBurnPercent,
	}
}

// MinimumBalance returns the balance an account holding dataLen bytes needs
// to be exempt from rent collection.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	bytes := AccountStorageOverhead + dataLen
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt reports whether balance covers the rent-exempt minimum for dataLen.
func (r Rent) IsExempt(balance, dataLen uint64) bool {
	return balance >= r.MinimumBalance(dataLen)
}
