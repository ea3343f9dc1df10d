// Package types provides well-known program addresses for the ledger.
package types

// Native program addresses.
// These are the same values Solana and X1 use.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// NativeLoaderAddr owns every natively registered program account.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")

	// ComputeBudgetProgramAddr is the Compute Budget Program address.
	ComputeBudgetProgramAddr = MustPubkeyFromBase58("ComputeBudget111111111111111111111111111111")
)

// Sysvar addresses.
var (
	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")

	// SysvarClockAddr is the Clock sysvar address.
	SysvarClockAddr = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")
)

// CounterProgramAddr is the default identity the counter program is deployed at.
var CounterProgramAddr = MustPubkeyFromBase58("CounterProgram11111111111111111111111111111")

// IsNativeProgram returns true if the pubkey is a built-in program.
func IsNativeProgram(p Pubkey) bool {
	switch p {
	case SystemProgramAddr,
		NativeLoaderAddr,
		ComputeBudgetProgramAddr:
		return true
	default:
		return false
	}
}

// IsSysvar returns true if the pubkey is a sysvar.
func IsSysvar(p Pubkey) bool {
	switch p {
	case SysvarRentAddr, SysvarClockAddr:
		return true
	default:
		return false
	}
}
