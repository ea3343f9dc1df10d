package counter

import (
	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

// SeedPrefix is the first seed of every counter address.
const SeedPrefix = "counter"

// DeriveAddress returns the canonical counter address of user under
// programID and its bump seed.
func DeriveAddress(programID, user types.Pubkey) (types.Pubkey, uint8, error) {
	return svm.FindProgramAddress([][]byte{[]byte(SeedPrefix), user[:]}, programID)
}

// signerSeeds are the seeds the program signs with for user's counter.
func signerSeeds(user types.Pubkey, bump uint8) svm.SignerSeeds {
	return svm.SignerSeeds{[]byte(SeedPrefix), user[:], {bump}}
}
