package grpcapi

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/counter"
	"github.com/fortiblox/x1-counter/pkg/ledger"
	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/txlog"
)

func newTestClient(t *testing.T) (*Client, *ledger.Ledger) {
	receipts, err := txlog.Open(txlog.DefaultConfig(filepath.Join(t.TempDir(), "txlog.db")))
	require.NoError(t, err)
	cfg := ledger.DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	l, err := ledger.New(accounts.NewMemoryDB(), receipts, cfg)
	require.NoError(t, err)

	lis := bufconn.Listen(1024 * 1024)
	srv := NewGRPCServer(l, zaptest.NewLogger(t))
	go func() {
		_ = srv.Serve(lis)
	}()

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.DialContext(ctx) }
	c, err := Dial("bufnet", DialOptions{ProgramID: l.ProgramID()}, grpc.WithContextDialer(dialer))
	require.NoError(t, err)
	c.Timeout = 5 * time.Second

	t.Cleanup(func() {
		c.Close()
		srv.Stop()
		l.Close()
	})
	return c, l
}

func keypair(t *testing.T) *types.Keypair {
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	return kp
}

func TestCounterOverGRPC(t *testing.T) {
	c, l := newTestClient(t)
	ctx := context.Background()

	payer := keypair(t)
	_, err := l.Airdrop(payer.Pubkey, 1_000_000_000)
	require.NoError(t, err)
	user := keypair(t)

	_, err = c.Counter(ctx, user.Pubkey)
	assert.ErrorIs(t, err, ErrNoCounter)

	create, err := counter.CreateCounterInstruction(c.ProgramID, user.Pubkey, payer.Pubkey)
	require.NoError(t, err)
	receipt, err := c.Send(ctx, payer, []*types.Keypair{user}, create)
	require.NoError(t, err)
	assert.True(t, receipt.Success(), receipt.Err)
	assert.Contains(t, receipt.LogMessages, "Program log: Counter account created successfully!")

	for _, delta := range []uint8{1, 2} {
		inc, err := counter.IncreaseCounterInstruction(c.ProgramID, user.Pubkey, payer.Pubkey, delta)
		require.NoError(t, err)
		receipt, err = c.Send(ctx, payer, []*types.Keypair{user}, inc)
		require.NoError(t, err)
		require.True(t, receipt.Success(), receipt.Err)
	}

	count, err := c.Counter(ctx, user.Pubkey)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), count)
	assert.Equal(t, uint64(3), receipt.Slot)
	assert.Equal(t, l.BankHash(), receipt.BankHash)
}

func TestFailedInstructionIsRecorded(t *testing.T) {
	c, l := newTestClient(t)
	ctx := context.Background()
	payer := keypair(t)
	_, err := l.Airdrop(payer.Pubkey, 1_000_000_000)
	require.NoError(t, err)
	user := keypair(t)

	inc, err := counter.IncreaseCounterInstruction(c.ProgramID, user.Pubkey, payer.Pubkey, 1)
	require.NoError(t, err)
	receipt, err := c.Send(ctx, payer, []*types.Keypair{user}, inc)
	require.NoError(t, err)
	assert.False(t, receipt.Success())
	assert.Equal(t, "Error processing Instruction 0: incorrect program id for instruction", receipt.Err)
	assert.Equal(t, uint64(10_000), receipt.Fee)
}

func TestRejectionsMapToSentinels(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	payer := keypair(t)
	user := keypair(t)

	create, err := counter.CreateCounterInstruction(c.ProgramID, user.Pubkey, payer.Pubkey)
	require.NoError(t, err)
	_, err = c.Send(ctx, payer, []*types.Keypair{user}, create)
	assert.ErrorIs(t, err, svm.ErrAccountNotFound)

	tx, err := svm.NewTransaction(payer.Pubkey, types.ComputeHash([]byte("stale")), create)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(payer, user))
	_, err = c.SendTransaction(ctx, tx)
	assert.ErrorIs(t, err, svm.ErrBlockhashNotFound)

	_, err = c.Account(ctx, user.Pubkey)
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)

	_, err = c.Transaction(ctx, types.Signature{1})
	assert.ErrorIs(t, err, txlog.ErrNotFound)

	_, err = c.client.GetAccount(ctx, wrapperspb.String("not a key"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAccountRoundTrip(t *testing.T) {
	c, l := newTestClient(t)
	acc, err := c.Account(context.Background(), l.ProgramID())
	require.NoError(t, err)
	assert.True(t, acc.Executable)
	assert.Equal(t, types.NativeLoaderAddr, acc.Owner)
}
