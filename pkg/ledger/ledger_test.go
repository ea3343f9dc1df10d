package ledger

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/counter"
	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/txlog"
)

const airdrop = uint64(5_000_000_000)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return cfg
}

func openTxlog(t *testing.T, dir string) *txlog.BoltLog {
	l, err := txlog.Open(txlog.DefaultConfig(filepath.Join(dir, "txlog.db")))
	require.NoError(t, err)
	return l
}

func newTestLedger(t *testing.T) *Ledger {
	l, err := New(accounts.NewMemoryDB(), openTxlog(t, t.TempDir()), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func keypair(t *testing.T) *types.Keypair {
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	return kp
}

func signedTx(t *testing.T, l *Ledger, payer *types.Keypair, signers []*types.Keypair, ixs ...svm.Instruction) *svm.Transaction {
	tx, err := svm.NewTransaction(payer.Pubkey, l.LatestBlockhash(), ixs...)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(append([]*types.Keypair{payer}, signers...)...))
	return tx
}

func createIx(t *testing.T, l *Ledger, user, payer types.Pubkey) svm.Instruction {
	ix, err := counter.CreateCounterInstruction(l.ProgramID(), user, payer)
	require.NoError(t, err)
	return ix
}

func increaseIx(t *testing.T, l *Ledger, user, payer types.Pubkey, delta uint8) svm.Instruction {
	ix, err := counter.IncreaseCounterInstruction(l.ProgramID(), user, payer, delta)
	require.NoError(t, err)
	return ix
}

func counterValue(t *testing.T, l *Ledger, user types.Pubkey) uint8 {
	addr, _, err := counter.DeriveAddress(l.ProgramID(), user)
	require.NoError(t, err)
	acc, err := l.GetAccount(addr)
	require.NoError(t, err)
	c, err := counter.DecodeCounter(acc.Data)
	require.NoError(t, err)
	return c.Count
}

func balance(t *testing.T, l *Ledger, key types.Pubkey) uint64 {
	acc, err := l.GetAccount(key)
	require.NoError(t, err)
	return acc.Lamports
}

func TestGenesisProgramAccounts(t *testing.T) {
	l := newTestLedger(t)
	for _, id := range []types.Pubkey{types.SystemProgramAddr, types.ComputeBudgetProgramAddr, l.ProgramID()} {
		acc, err := l.GetAccount(id)
		require.NoError(t, err, id.String())
		assert.True(t, acc.Executable)
		assert.Equal(t, types.NativeLoaderAddr, acc.Owner)
	}
	assert.Equal(t, uint64(0), l.Slot())
}

func TestCounterLifecycle(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	payer, user := keypair(t), keypair(t)
	_, err := l.Airdrop(payer.Pubkey, airdrop)
	require.NoError(t, err)

	receipt, err := l.SendTransaction(ctx, signedTx(t, l, payer, []*types.Keypair{user}, createIx(t, l, user.Pubkey, payer.Pubkey)))
	require.NoError(t, err)
	require.True(t, receipt.Success(), receipt.Err)
	assert.Equal(t, uint64(1), receipt.Slot)
	assert.Equal(t, uint64(10_000), receipt.Fee)
	assert.Contains(t, receipt.LogMessages, "Program log: Counter account created successfully!")
	assert.Equal(t, uint8(0), counterValue(t, l, user.Pubkey))

	rentMin := l.Rent().MinimumBalance(counter.CounterSize)
	assert.Equal(t, airdrop-10_000-rentMin, balance(t, l, payer.Pubkey))
	assert.Equal(t, airdrop, receipt.PreBalances[0])
	assert.Equal(t, airdrop-10_000-rentMin, receipt.PostBalances[0])

	receipt, err = l.SendTransaction(ctx, signedTx(t, l, payer, []*types.Keypair{user},
		increaseIx(t, l, user.Pubkey, payer.Pubkey, 1),
		increaseIx(t, l, user.Pubkey, payer.Pubkey, 2),
	))
	require.NoError(t, err)
	require.True(t, receipt.Success(), receipt.Err)
	assert.Equal(t, uint8(3), counterValue(t, l, user.Pubkey))
	assert.Equal(t, uint64(2), l.Slot())

	stored, err := l.GetReceipt(receipt.Signature)
	require.NoError(t, err)
	assert.Equal(t, receipt.BankHash, stored.BankHash)
	assert.Equal(t, l.BankHash(), receipt.BankHash)
}

func TestFailedTransactionChargesFee(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	payer, user := keypair(t), keypair(t)
	_, err := l.Airdrop(payer.Pubkey, airdrop)
	require.NoError(t, err)

	_, err = l.SendTransaction(ctx, signedTx(t, l, payer, []*types.Keypair{user},
		createIx(t, l, user.Pubkey, payer.Pubkey),
		increaseIx(t, l, user.Pubkey, payer.Pubkey, 200),
	))
	require.NoError(t, err)
	before := balance(t, l, payer.Pubkey)

	receipt, err := l.SendTransaction(ctx, signedTx(t, l, payer, []*types.Keypair{user},
		increaseIx(t, l, user.Pubkey, payer.Pubkey, 50),
		increaseIx(t, l, user.Pubkey, payer.Pubkey, 6),
	))
	require.NoError(t, err)
	assert.False(t, receipt.Success())
	assert.Equal(t, "Error processing Instruction 1: Program arithmetic overflowed", receipt.Err)
	assert.Equal(t, uint8(200), counterValue(t, l, user.Pubkey))
	assert.Equal(t, before-receipt.Fee, balance(t, l, payer.Pubkey))
	assert.Equal(t, uint64(2), l.Slot())
}

func TestRejectedTransactions(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	payer, user := keypair(t), keypair(t)
	_, err := l.Airdrop(payer.Pubkey, airdrop)
	require.NoError(t, err)

	t.Run("unknown blockhash", func(t *testing.T) {
		tx, err := svm.NewTransaction(payer.Pubkey, types.Hash{9}, createIx(t, l, user.Pubkey, payer.Pubkey))
		require.NoError(t, err)
		require.NoError(t, tx.Sign(payer, user))
		_, err = l.SendTransaction(ctx, tx)
		assert.ErrorIs(t, err, svm.ErrBlockhashNotFound)
	})

	t.Run("missing signature", func(t *testing.T) {
		tx, err := svm.NewTransaction(payer.Pubkey, l.LatestBlockhash(), createIx(t, l, user.Pubkey, payer.Pubkey))
		require.NoError(t, err)
		_, err = l.SendTransaction(ctx, tx)
		assert.ErrorIs(t, err, svm.ErrSignatureFailure)
	})

	t.Run("unfunded fee payer", func(t *testing.T) {
		broke := keypair(t)
		_, err := l.SendTransaction(ctx, signedTx(t, l, broke, []*types.Keypair{user}, createIx(t, l, user.Pubkey, broke.Pubkey)))
		assert.ErrorIs(t, err, svm.ErrAccountNotFound)
	})

	t.Run("fee exceeds balance", func(t *testing.T) {
		poor := keypair(t)
		_, err := l.Airdrop(poor.Pubkey, 1_000)
		require.NoError(t, err)
		_, err = l.SendTransaction(ctx, signedTx(t, l, poor, []*types.Keypair{user}, createIx(t, l, user.Pubkey, poor.Pubkey)))
		assert.ErrorIs(t, err, svm.ErrInsufficientFundsForFee)
	})

	t.Run("duplicate", func(t *testing.T) {
		tx := signedTx(t, l, payer, []*types.Keypair{user}, createIx(t, l, user.Pubkey, payer.Pubkey))
		_, err := l.SendTransaction(ctx, tx)
		require.NoError(t, err)
		_, err = l.SendTransaction(ctx, tx)
		assert.ErrorIs(t, err, svm.ErrAlreadyProcessed)
	})

	assert.Equal(t, uint64(1), l.Slot(), "only the first duplicate was processed")
}

var errInjected = errors.New("injected failure")

// flakyLog fails the next Put while failPut is set.
type flakyLog struct {
	txlog.Log
	failPut bool
}

func (f *flakyLog) Put(r *txlog.Receipt) error {
	if f.failPut {
		f.failPut = false
		return errInjected
	}
	return f.Log.Put(r)
}

// flakyDB fails the next ApplyChanges while failApply is set.
type flakyDB struct {
	accounts.DB
	failApply bool
}

func (f *flakyDB) ApplyChanges(changes map[types.Pubkey]*accounts.Account) error {
	if f.failApply {
		f.failApply = false
		return errInjected
	}
	return f.DB.ApplyChanges(changes)
}

func TestCommitFailureLeavesNoTrace(t *testing.T) {
	for _, tc := range []struct {
		name string
		arm  func(*flakyLog, *flakyDB)
	}{
		{"receipt write fails", func(lg *flakyLog, _ *flakyDB) { lg.failPut = true }},
		{"account write fails", func(_ *flakyLog, db *flakyDB) { db.failApply = true }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lg := &flakyLog{Log: openTxlog(t, t.TempDir())}
			db := &flakyDB{DB: accounts.NewMemoryDB()}
			l, err := New(db, lg, testConfig(t))
			require.NoError(t, err)
			defer l.Close()

			ctx := context.Background()
			payer, user := keypair(t), keypair(t)
			_, err = l.Airdrop(payer.Pubkey, airdrop)
			require.NoError(t, err)
			receipt, err := l.SendTransaction(ctx, signedTx(t, l, payer, []*types.Keypair{user}, createIx(t, l, user.Pubkey, payer.Pubkey)))
			require.NoError(t, err)
			require.True(t, receipt.Success(), receipt.Err)

			slot, bankHash := l.Slot(), l.BankHash()
			before := balance(t, l, payer.Pubkey)
			tx := signedTx(t, l, payer, []*types.Keypair{user}, increaseIx(t, l, user.Pubkey, payer.Pubkey, 10))

			tc.arm(lg, db)
			_, err = l.SendTransaction(ctx, tx)
			require.ErrorIs(t, err, errInjected)
			assert.Equal(t, uint8(0), counterValue(t, l, user.Pubkey))
			assert.Equal(t, before, balance(t, l, payer.Pubkey))
			assert.Equal(t, slot, l.Slot())
			assert.Equal(t, bankHash, l.BankHash())
			_, err = l.GetReceipt(tx.Signature())
			assert.ErrorIs(t, err, txlog.ErrNotFound)

			// the same transaction applies exactly once on resubmission
			receipt, err = l.SendTransaction(ctx, tx)
			require.NoError(t, err)
			require.True(t, receipt.Success(), receipt.Err)
			_, err = l.SendTransaction(ctx, tx)
			assert.ErrorIs(t, err, svm.ErrAlreadyProcessed)
			assert.Equal(t, uint8(10), counterValue(t, l, user.Pubkey))
			assert.Equal(t, slot+1, l.Slot())
		})
	}
}

func TestSimulateTransactionCommitsNothing(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	payer, user := keypair(t), keypair(t)
	_, err := l.Airdrop(payer.Pubkey, airdrop)
	require.NoError(t, err)

	tx := signedTx(t, l, payer, []*types.Keypair{user},
		createIx(t, l, user.Pubkey, payer.Pubkey),
		increaseIx(t, l, user.Pubkey, payer.Pubkey, 200),
		increaseIx(t, l, user.Pubkey, payer.Pubkey, 100),
	)
	res, err := l.SimulateTransaction(ctx, tx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.EqualError(t, res.Err, "Error processing Instruction 2: Program arithmetic overflowed")

	assert.Equal(t, uint64(0), l.Slot())
	assert.Equal(t, airdrop, balance(t, l, payer.Pubkey))
	_, err = l.GetReceipt(tx.Signature())
	assert.ErrorIs(t, err, txlog.ErrNotFound)

	_, err = l.SimulateTransaction(ctx, signedTx(t, l, keypair(t), nil, svm.SetComputeUnitLimit(1)))
	assert.ErrorIs(t, err, svm.ErrAccountNotFound)
}

func TestBlockhashWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.BlockhashWindow = 2
	l, err := New(accounts.NewMemoryDB(), openTxlog(t, t.TempDir()), cfg)
	require.NoError(t, err)
	defer l.Close()

	payer := keypair(t)
	_, err = l.Airdrop(payer.Pubkey, airdrop)
	require.NoError(t, err)
	stale := l.LatestBlockhash()

	for i := 0; i < 2; i++ {
		_, err := l.SendTransaction(context.Background(), signedTx(t, l, payer, nil, svm.SetComputeUnitLimit(uint32(10_000+i))))
		require.NoError(t, err)
	}

	tx, err := svm.NewTransaction(payer.Pubkey, stale, svm.SetComputeUnitLimit(1))
	require.NoError(t, err)
	require.NoError(t, tx.Sign(payer))
	_, err = l.SendTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, svm.ErrBlockhashNotFound)
}

func TestReopenPersistentLedger(t *testing.T) {
	dir := t.TempDir()
	open := func() *Ledger {
		db, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(dir, "accounts")))
		require.NoError(t, err)
		l, err := New(db, openTxlog(t, dir), testConfig(t))
		require.NoError(t, err)
		return l
	}

	l := open()
	payer, user := keypair(t), keypair(t)
	_, err := l.Airdrop(payer.Pubkey, airdrop)
	require.NoError(t, err)
	receipt, err := l.SendTransaction(context.Background(), signedTx(t, l, payer, []*types.Keypair{user},
		createIx(t, l, user.Pubkey, payer.Pubkey),
		increaseIx(t, l, user.Pubkey, payer.Pubkey, 7),
	))
	require.NoError(t, err)
	require.True(t, receipt.Success(), receipt.Err)
	blockhash := l.LatestBlockhash()
	require.NoError(t, l.Close())

	l = open()
	defer l.Close()
	assert.Equal(t, uint64(1), l.Slot())
	assert.Equal(t, blockhash, l.LatestBlockhash())
	assert.Equal(t, uint8(7), counterValue(t, l, user.Pubkey))

	stored, err := l.GetReceipt(receipt.Signature)
	require.NoError(t, err)
	assert.Equal(t, receipt.Slot, stored.Slot)
}

func TestWriteSnapshotRestoresState(t *testing.T) {
	l := newTestLedger(t)
	defer l.Close()
	payer, user := keypair(t), keypair(t)
	_, err := l.Airdrop(payer.Pubkey, airdrop)
	require.NoError(t, err)
	receipt, err := l.SendTransaction(context.Background(), signedTx(t, l, payer, []*types.Keypair{user},
		createIx(t, l, user.Pubkey, payer.Pubkey),
		increaseIx(t, l, user.Pubkey, payer.Pubkey, 2),
	))
	require.NoError(t, err)
	require.True(t, receipt.Success(), receipt.Err)

	var buf bytes.Buffer
	hdr, err := l.WriteSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, l.Slot(), hdr.Slot)

	db := accounts.NewMemoryDB()
	_, err = accounts.ReadSnapshot(&buf, db)
	require.NoError(t, err)
	restored, err := New(db, openTxlog(t, t.TempDir()), testConfig(t))
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, l.Slot(), restored.Slot())
	assert.Equal(t, l.LatestBlockhash(), restored.LatestBlockhash())
	assert.Equal(t, uint8(2), counterValue(t, restored, user.Pubkey))
	assert.Equal(t, balance(t, l, payer.Pubkey), balance(t, restored, payer.Pubkey))
}
