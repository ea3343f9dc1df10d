package ledger

import (
	"time"

	"go.uber.org/zap"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/counter"
)

// Defaults.
const (
	DefaultLamportsPerSignature = uint64(5_000)

	// DefaultBlockhashWindow is how many recent slots' blockhashes a
	// transaction may reference.
	DefaultBlockhashWindow = 150
)

// Config holds ledger configuration.
type Config struct {
	// ProgramID is the address the counter program is deployed at.
	ProgramID types.Pubkey

	Rent                 types.Rent
	LamportsPerSignature uint64

	// ComputeUnitLimit overrides the default per-transaction compute
	// limit when non-zero.
	ComputeUnitLimit uint64

	BlockhashWindow int

	// SkipSignatureVerification accepts unsigned transactions.
	SkipSignatureVerification bool

	Logger *zap.Logger

	// Now returns the block time stamped on receipts.
	Now func() time.Time
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		ProgramID:            counter.ProgramID,
		Rent:                 types.DefaultRent(),
		LamportsPerSignature: DefaultLamportsPerSignature,
		BlockhashWindow:      DefaultBlockhashWindow,
		Logger:               zap.NewNop(),
		Now:                  time.Now,
	}
}

func (c *Config) setDefaults() {
	if c.ProgramID.IsZero() {
		c.ProgramID = counter.ProgramID
	}
	if c.Rent == (types.Rent{}) {
		c.Rent = types.DefaultRent()
	}
	if c.BlockhashWindow <= 0 {
		c.BlockhashWindow = DefaultBlockhashWindow
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
