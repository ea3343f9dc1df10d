package node

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/counter"
	"github.com/fortiblox/x1-counter/pkg/grpcapi"
	"github.com/fortiblox/x1-counter/pkg/rpc"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

func testConfig(t *testing.T, dir string) Config {
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.RPCAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.Logger = zaptest.NewLogger(t)
	return cfg
}

func keypair(t *testing.T) *types.Keypair {
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	return kp
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, true},
		{"rpc without address", func(c *Config) { c.RPCAddr = "" }, true},
		{"grpc without address", func(c *Config) { c.GRPCAddr = "" }, true},
		{"services disabled", func(c *Config) {
			c.RPCEnabled, c.RPCAddr = false, ""
			c.GRPCEnabled, c.GRPCAddr = false, ""
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfigInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNodeServesBothTransports(t *testing.T) {
	n, err := Open(testConfig(t, t.TempDir()))
	require.NoError(t, err)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.Start(ctx))
	assert.ErrorIs(t, n.Start(ctx), ErrAlreadyRunning)

	payer := keypair(t)
	user := keypair(t)
	rpcClient := rpc.NewClient([]string{"http://" + n.RPCAddr().String()}, 5*time.Second)
	require.NoError(t, rpcClient.RequestAirdrop(ctx, payer.Pubkey, 1_000_000_000))

	g, err := grpcapi.Dial(n.GRPCAddr().String(), grpcapi.DialOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer g.Close()

	create, err := counter.CreateCounterInstruction(counter.ProgramID, user.Pubkey, payer.Pubkey)
	require.NoError(t, err)
	inc, err := counter.IncreaseCounterInstruction(counter.ProgramID, user.Pubkey, payer.Pubkey, 4)
	require.NoError(t, err)
	receipt, err := g.Send(ctx, payer, []*types.Keypair{user}, create, inc)
	require.NoError(t, err)
	require.True(t, receipt.Success(), receipt.Err)

	info, err := rpcClient.GetCounter(ctx, user.Pubkey)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, uint8(4), info.Count)

	status := n.Status()
	assert.Equal(t, uint64(1), status.Slot)
	assert.Equal(t, uint64(1), status.TxCount)
	assert.True(t, status.IsRunning)

	require.NoError(t, n.Stop())
	assert.ErrorIs(t, n.Stop(), ErrNotRunning)
}

func TestNodeReopenAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.RPCEnabled = false
	cfg.GRPCEnabled = false

	n, err := Open(cfg)
	require.NoError(t, err)

	payer := keypair(t)
	user := keypair(t)
	l := n.Ledger()
	_, err = l.Airdrop(payer.Pubkey, 1_000_000_000)
	require.NoError(t, err)
	create, err := counter.CreateCounterInstruction(l.ProgramID(), user.Pubkey, payer.Pubkey)
	require.NoError(t, err)
	tx, err := svm.NewTransaction(payer.Pubkey, l.LatestBlockhash(), create)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(payer, user))
	receipt, err := l.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.True(t, receipt.Success(), receipt.Err)

	snapPath := filepath.Join(t.TempDir(), "state.x1snap")
	f, err := os.Create(snapPath)
	require.NoError(t, err)
	hdr, err := n.ExportSnapshot(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, uint64(1), hdr.Slot)

	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Close(), ErrClosed)

	// reopen from the same data directory
	n, err = Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n.Ledger().Slot())
	_, err = n.Ledger().GetReceipt(receipt.Signature)
	assert.NoError(t, err)
	require.NoError(t, n.Close())

	// fresh node seeded from the snapshot
	seeded := testConfig(t, t.TempDir())
	seeded.RPCEnabled = false
	seeded.GRPCEnabled = false
	seeded.SnapshotPath = snapPath
	n, err = Open(seeded)
	require.NoError(t, err)
	defer n.Close()
	assert.Equal(t, uint64(1), n.Ledger().Slot())
	assert.Equal(t, hdr.StateHash, n.Ledger().BankHash())

	addr, _, err := counter.DeriveAddress(n.Ledger().ProgramID(), user.Pubkey)
	require.NoError(t, err)
	acc, err := n.Ledger().GetAccount(addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, acc.Data)
}
