// Package ledger runs a single-node counter ledger.
//
// The ledger serializes transactions. Each accepted transaction is
// checked (sanitized message, valid signatures, recent blockhash, not
// already processed), charged its fee, executed by the runtime and
// committed as one slot. A receipt with the slot's delta and bank hash is
// appended to the transaction log whether or not the instructions
// succeeded.
package ledger

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/counter"
	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/svm/programs/system"
	"github.com/fortiblox/x1-counter/pkg/txlog"
)

// ErrInvalidAirdrop is returned for a zero-lamport airdrop.
var ErrInvalidAirdrop = errors.New("invalid airdrop")

var genesisSeed = []byte("x1-counter genesis")

// Ledger executes and commits transactions.
type Ledger struct {
	mu sync.Mutex

	accounts accounts.DB
	txlog    txlog.Log
	runtime  *svm.Runtime
	config   Config
	log      *zap.Logger

	slot     uint64
	bankHash types.Hash
}

// New opens a ledger over accts and receipts. Native program accounts are
// created on first use.
func New(accts accounts.DB, receipts txlog.Log, config Config) (*Ledger, error) {
	config.setDefaults()

	rt := svm.NewRuntime()
	rt.RegisterProgram(system.ProgramID, system.NewProcessor())
	rt.RegisterProgram(config.ProgramID, counter.NewProcessor())

	l := &Ledger{
		accounts: accts,
		txlog:    receipts,
		runtime:  rt,
		config:   config,
		log:      config.Logger.Named("ledger"),
		slot:     accts.GetSlot(),
	}
	if err := l.genesis(); err != nil {
		return nil, errors.Wrap(err, "genesis")
	}

	stateHash, err := accounts.ComputeStateHash(accts)
	if err != nil {
		return nil, errors.Wrap(err, "compute state hash")
	}
	l.bankHash = stateHash

	l.log.Info("ledger opened",
		zap.Uint64("slot", l.slot),
		zap.Stringer("program_id", config.ProgramID),
		zap.Stringer("state_hash", stateHash),
	)
	return l, nil
}

func (l *Ledger) genesis() error {
	programs := map[types.Pubkey]string{
		system.ProgramID:               "system_program",
		types.ComputeBudgetProgramAddr: "compute_budget_program",
		l.config.ProgramID:             "counter_program",
	}
	changes := make(map[types.Pubkey]*accounts.Account)
	for id, name := range programs {
		ok, err := l.accounts.HasAccount(id)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		changes[id] = &accounts.Account{
			Lamports:   1,
			Data:       []byte(name),
			Owner:      types.NativeLoaderAddr,
			Executable: true,
		}
	}
	if len(changes) == 0 {
		return nil
	}
	if err := l.accounts.ApplyChanges(changes); err != nil {
		return err
	}
	return l.accounts.Commit()
}

// Runtime returns the ledger's runtime. Programs registered on it become
// callable from transactions.
func (l *Ledger) Runtime() *svm.Runtime {
	return l.runtime
}

// ProgramID returns the counter program address.
func (l *Ledger) ProgramID() types.Pubkey {
	return l.config.ProgramID
}

// Rent returns the rent parameters.
func (l *Ledger) Rent() types.Rent {
	return l.config.Rent
}

// Slot returns the current slot.
func (l *Ledger) Slot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot
}

// BankHash returns the bank hash of the current slot.
func (l *Ledger) BankHash() types.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bankHash
}

// LatestBlockhash returns the blockhash of the current slot.
func (l *Ledger) LatestBlockhash() types.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return blockhashAt(l.slot)
}

// blockhashAt derives the blockhash of slot.
func blockhashAt(slot uint64) types.Hash {
	h := blake3.New()
	h.Write(genesisSeed)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], slot)
	h.Write(buf[:])
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// GenesisHash returns the blockhash of slot 0.
func (l *Ledger) GenesisHash() types.Hash {
	return blockhashAt(0)
}

// BlockhashWindow is how many slots a blockhash stays usable.
func (l *Ledger) BlockhashWindow() uint64 {
	return uint64(l.config.BlockhashWindow)
}

// IsBlockhashValid reports whether a transaction may reference hash.
func (l *Ledger) IsBlockhashValid(hash types.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isRecentBlockhash(hash)
}

func (l *Ledger) isRecentBlockhash(hash types.Hash) bool {
	for i := 0; i < l.config.BlockhashWindow && uint64(i) <= l.slot; i++ {
		if blockhashAt(l.slot-uint64(i)) == hash {
			return true
		}
	}
	return false
}

// GetAccount returns the committed account at key.
func (l *Ledger) GetAccount(key types.Pubkey) (*accounts.Account, error) {
	return l.accounts.GetAccount(key)
}

// IterateAccounts calls fn for every committed account in key order.
func (l *Ledger) IterateAccounts(fn func(key types.Pubkey, acc *accounts.Account) error) error {
	return l.accounts.IterateAccounts(fn)
}

// SignaturesForAddress lists the newest transactions that referenced addr.
func (l *Ledger) SignaturesForAddress(addr types.Pubkey, limit int) ([]txlog.SignatureInfo, error) {
	return l.txlog.SignaturesForAddress(addr, limit)
}

// WriteSnapshot writes a snapshot of the committed accounts to w. No
// transaction commits while it runs.
func (l *Ledger) WriteSnapshot(w io.Writer) (*accounts.SnapshotHeader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return accounts.WriteSnapshot(w, l.accounts)
}

// GetReceipt returns the receipt of a processed transaction.
func (l *Ledger) GetReceipt(sig types.Signature) (*txlog.Receipt, error) {
	return l.txlog.Get(sig)
}

// Airdrop credits lamports to key, creating a System-owned account if
// none exists. It returns the new balance.
func (l *Ledger) Airdrop(key types.Pubkey, lamports uint64) (uint64, error) {
	if lamports == 0 {
		return 0, ErrInvalidAirdrop
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.accounts.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		acc = &accounts.Account{Owner: types.SystemProgramAddr}
	} else if err != nil {
		return 0, err
	}
	if acc.Lamports > ^uint64(0)-lamports {
		return 0, errors.Wrap(svm.ArithmeticOverflow, "airdrop")
	}
	acc.Lamports += lamports
	if err := l.accounts.SetAccount(key, acc); err != nil {
		return 0, err
	}

	l.log.Info("airdrop", zap.Stringer("to", key), zap.Uint64("lamports", lamports))
	return acc.Lamports, nil
}

// Fee returns the fee charged for tx.
func (l *Ledger) Fee(tx *svm.Transaction) uint64 {
	return uint64(tx.Message.Header.NumRequiredSignatures) * l.config.LamportsPerSignature
}

// SendTransaction processes tx. A returned error means the transaction
// was rejected and nothing was charged. Otherwise the receipt reports
// whether its instructions succeeded; the fee is charged either way.
func (l *Ledger) SendTransaction(ctx context.Context, tx *svm.Transaction) (*txlog.Receipt, error) {
	if err := l.verify(tx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ex, err := l.execute(ctx, tx)
	if err != nil {
		return nil, err
	}
	receipt, err := l.commit(tx, ex.res, ex.changes, ex.fee)
	if err != nil {
		return nil, err
	}

	sig := receipt.Signature
	for _, line := range ex.res.Logs {
		l.log.Debug(line, zap.Stringer("signature", sig))
	}
	l.log.Info("transaction processed",
		zap.Stringer("signature", sig),
		zap.Uint64("slot", receipt.Slot),
		zap.Bool("success", ex.res.Success),
		zap.Uint64("compute_units", ex.res.ComputeUnitsConsumed),
		zap.NamedError("tx_error", ex.res.Err),
	)
	return receipt, nil
}

// SimulateTransaction runs tx against the current state without
// committing it or charging its fee. It rejects the same transactions
// SendTransaction would.
func (l *Ledger) SimulateTransaction(ctx context.Context, tx *svm.Transaction) (*svm.ExecutionResult, error) {
	if err := l.verify(tx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ex, err := l.execute(ctx, tx)
	if err != nil {
		return nil, err
	}
	return ex.res, nil
}

func (l *Ledger) verify(tx *svm.Transaction) error {
	if err := tx.Message.Sanitize(); err != nil {
		return err
	}
	if !l.config.SkipSignatureVerification {
		return tx.VerifySignatures()
	}
	return nil
}

type execution struct {
	fee     uint64
	res     *svm.ExecutionResult
	changes map[types.Pubkey]*accounts.Account
}

// execute checks tx against the ledger state and runs it with its fee
// deducted. l.mu must be held.
func (l *Ledger) execute(ctx context.Context, tx *svm.Transaction) (*execution, error) {
	sig := tx.Signature()
	if !l.isRecentBlockhash(tx.Message.RecentBlockhash) {
		return nil, svm.ErrBlockhashNotFound
	}
	if _, err := l.txlog.Get(sig); err == nil {
		return nil, svm.ErrAlreadyProcessed
	} else if !errors.Is(err, txlog.ErrNotFound) {
		return nil, errors.Wrap(err, "lookup signature")
	}

	payerKey := tx.FeePayer()
	fee := l.Fee(tx)
	payer, err := l.chargeFee(payerKey, fee)
	if err != nil {
		return nil, err
	}

	res, err := l.runtime.Execute(ctx, tx, svm.Environment{
		Accounts:         &feeLoader{AccountLoader: l.accounts, payerKey: payerKey, payer: payer},
		Rent:             l.config.Rent,
		ComputeUnitLimit: l.config.ComputeUnitLimit,
	})
	if err != nil {
		return nil, err
	}

	changes := map[types.Pubkey]*accounts.Account{payerKey: payer}
	for k, acc := range res.AccountChanges {
		changes[k] = acc
	}
	return &execution{fee: fee, res: res, changes: changes}, nil
}

// chargeFee returns the fee payer with fee deducted. The payer must be a
// System account and stay rent exempt, or be emptied.
func (l *Ledger) chargeFee(key types.Pubkey, fee uint64) (*accounts.Account, error) {
	payer, err := l.accounts.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, svm.ErrAccountNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "load fee payer")
	}
	if payer.Owner != types.SystemProgramAddr || payer.Lamports < fee {
		return nil, svm.ErrInsufficientFundsForFee
	}
	payer.Lamports -= fee
	if payer.Lamports != 0 && !l.config.Rent.IsExempt(payer.Lamports, uint64(len(payer.Data))) {
		return nil, svm.ErrInsufficientFundsForFee
	}
	return payer, nil
}

func (l *Ledger) commit(tx *svm.Transaction, res *svm.ExecutionResult, changes map[types.Pubkey]*accounts.Account, fee uint64) (*txlog.Receipt, error) {
	keys := tx.Message.AccountKeys
	pre := make([]uint64, len(keys))
	post := make([]uint64, len(keys))
	for i, k := range keys {
		acc, err := l.accounts.GetAccount(k)
		if err == nil {
			pre[i] = acc.Lamports
		} else if !errors.Is(err, accounts.ErrAccountNotFound) {
			return nil, err
		}
		post[i] = pre[i]
		if c, ok := changes[k]; ok {
			post[i] = c.Lamports
		}
	}

	slot := l.slot + 1
	deltaHash := accounts.ComputeDeltaHash(changes)
	bankHash := accounts.ComputeBankHash(accounts.BankHashInput{
		ParentBankHash:    l.bankHash,
		AccountsDeltaHash: deltaHash,
		NumSignatures:     uint64(len(tx.Signatures)),
		Blockhash:         blockhashAt(slot),
	})

	receipt := &txlog.Receipt{
		Signature:            tx.Signature(),
		Slot:                 slot,
		BlockTime:            l.config.Now().Unix(),
		Fee:                  fee,
		ComputeUnitsConsumed: res.ComputeUnitsConsumed,
		LogMessages:          res.Logs,
		AccountKeys:          keys,
		PreBalances:          pre,
		PostBalances:         post,
		DeltaHash:            deltaHash,
		BankHash:             bankHash,
	}
	if res.Err != nil {
		receipt.Err = res.Err.Error()
	}

	// The receipt marks the signature processed and must exist before any
	// change is visible.
	if err := l.txlog.Put(receipt); err != nil {
		return nil, errors.Wrap(err, "record receipt")
	}
	if err := l.accounts.ApplyChanges(changes); err != nil {
		if derr := l.txlog.Delete(receipt.Signature); derr != nil {
			err = multierr.Append(err, errors.Wrap(derr, "remove receipt"))
		}
		return nil, errors.Wrap(err, "apply changes")
	}

	// Changes are visible from here on.
	l.slot = slot
	l.bankHash = bankHash
	if err := l.accounts.SetSlot(slot); err != nil {
		return nil, errors.Wrap(err, "set slot")
	}
	if err := l.accounts.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return receipt, nil
}

// feeLoader serves the fee payer with its fee already deducted.
type feeLoader struct {
	svm.AccountLoader
	payerKey types.Pubkey
	payer    *accounts.Account
}

func (f *feeLoader) GetAccount(key types.Pubkey) (*accounts.Account, error) {
	if key == f.payerKey {
		return f.payer.Clone(), nil
	}
	return f.AccountLoader.GetAccount(key)
}

// Close closes the transaction log and the accounts database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if cerr := l.txlog.Close(); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "close txlog"))
	}
	if cerr := l.accounts.Close(); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "close accounts"))
	}
	return err
}
