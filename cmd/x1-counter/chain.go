package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fortiblox/x1-counter/internal/config"
	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/ledger"
	"github.com/fortiblox/x1-counter/pkg/node"
	"github.com/fortiblox/x1-counter/pkg/rpc"
	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/txlog"
)

// chain is what client commands need from a ledger, local or remote.
type chain interface {
	ProgramID() types.Pubkey
	LatestBlockhash(ctx context.Context) (types.Hash, error)
	Submit(ctx context.Context, tx *svm.Transaction) (*outcome, error)
	Airdrop(ctx context.Context, key types.Pubkey, lamports uint64) error
	Account(ctx context.Context, key types.Pubkey) (*accounts.Account, error)
	Slot(ctx context.Context) (uint64, error)
	Close() error
}

// outcome is a processed transaction as shown to the user.
type outcome struct {
	Signature string   `json:"signature"`
	Slot      uint64   `json:"slot"`
	Err       string   `json:"err,omitempty"`
	Fee       uint64   `json:"fee"`
	Logs      []string `json:"logs"`
}

func (o *outcome) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "signature: %s\nslot: %d\nfee: %d", o.Signature, o.Slot, o.Fee)
	if o.Err != "" {
		fmt.Fprintf(&b, "\nerror: %s", o.Err)
	}
	for _, line := range o.Logs {
		fmt.Fprintf(&b, "\n  %s", line)
	}
	return b.String()
}

func outcomeFromReceipt(r *txlog.Receipt) *outcome {
	return &outcome{
		Signature: r.Signature.String(),
		Slot:      r.Slot,
		Err:       r.Err,
		Fee:       r.Fee,
		Logs:      r.LogMessages,
	}
}

// nodeConfig maps the loaded configuration onto a node configuration.
func nodeConfig(cfg *config.Config, log *zap.Logger) (node.Config, error) {
	programID, err := cfg.Program()
	if err != nil {
		return node.Config{}, err
	}
	ledgerConfig := ledger.DefaultConfig()
	ledgerConfig.ProgramID = programID
	ledgerConfig.Rent = cfg.Rent()
	ledgerConfig.LamportsPerSignature = cfg.LamportsPerSignature
	ledgerConfig.ComputeUnitLimit = cfg.ComputeUnitLimit
	ledgerConfig.BlockhashWindow = cfg.BlockhashWindow

	return node.Config{
		DataDir:       cfg.DataDir,
		SyncWrites:    cfg.SyncWrites,
		SnapshotPath:  cfg.SnapshotPath,
		RPCEnabled:    cfg.EnableRPC,
		RPCAddr:       cfg.ListenAddress,
		GRPCEnabled:   cfg.EnableGRPC,
		GRPCAddr:      cfg.GRPCListenAddress,
		EnableAirdrop: cfg.EnableAirdrop,
		Ledger:        ledgerConfig,
		Logger:        log,
	}, nil
}

// openNode opens the data directory without starting any service.
func (a *app) openNode() (*node.Node, error) {
	nc, err := nodeConfig(a.config, a.log)
	if err != nil {
		return nil, err
	}
	nc.RPCEnabled = false
	nc.GRPCEnabled = false
	return node.Open(nc)
}

// openChain returns the remote chain when rpc_url is set and the local
// data directory otherwise.
func (a *app) openChain() (chain, error) {
	if a.config.RPCURL != "" {
		programID, err := a.config.Program()
		if err != nil {
			return nil, err
		}
		return &remoteChain{
			client:    rpc.NewClient(strings.Split(a.config.RPCURL, ","), a.config.RPCTimeout),
			programID: programID,
		}, nil
	}
	n, err := a.openNode()
	if err != nil {
		return nil, err
	}
	return &localChain{node: n}, nil
}

type localChain struct {
	node *node.Node
}

func (c *localChain) ProgramID() types.Pubkey {
	return c.node.Ledger().ProgramID()
}

func (c *localChain) LatestBlockhash(context.Context) (types.Hash, error) {
	return c.node.Ledger().LatestBlockhash(), nil
}

func (c *localChain) Submit(ctx context.Context, tx *svm.Transaction) (*outcome, error) {
	receipt, err := c.node.Ledger().SendTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	return outcomeFromReceipt(receipt), nil
}

func (c *localChain) Airdrop(_ context.Context, key types.Pubkey, lamports uint64) error {
	_, err := c.node.Ledger().Airdrop(key, lamports)
	return err
}

func (c *localChain) Account(_ context.Context, key types.Pubkey) (*accounts.Account, error) {
	return c.node.Ledger().GetAccount(key)
}

func (c *localChain) Slot(context.Context) (uint64, error) {
	return c.node.Ledger().Slot(), nil
}

func (c *localChain) Close() error {
	return c.node.Close()
}

type remoteChain struct {
	client    *rpc.Client
	programID types.Pubkey
}

func (c *remoteChain) ProgramID() types.Pubkey {
	return c.programID
}

func (c *remoteChain) LatestBlockhash(ctx context.Context) (types.Hash, error) {
	return c.client.GetLatestBlockhash(ctx)
}

// Submit skips preflight so failed transactions come back with their logs
// through getTransaction.
func (c *remoteChain) Submit(ctx context.Context, tx *svm.Transaction) (*outcome, error) {
	sig, err := c.client.SendTransactionWithConfig(ctx, tx, rpc.SendTransactionConfig{SkipPreflight: true})
	if err != nil {
		return nil, err
	}
	resp, err := c.client.GetTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Meta == nil {
		return nil, errors.Errorf("transaction %s not found", sig)
	}
	out := &outcome{
		Signature: sig.String(),
		Slot:      resp.Slot,
		Fee:       resp.Meta.Fee,
		Logs:      resp.Meta.LogMessages,
	}
	if resp.Meta.Err != nil {
		out.Err = fmt.Sprint(resp.Meta.Err)
	}
	return out, nil
}

func (c *remoteChain) Airdrop(ctx context.Context, key types.Pubkey, lamports uint64) error {
	return c.client.RequestAirdrop(ctx, key, lamports)
}

func (c *remoteChain) Account(ctx context.Context, key types.Pubkey) (*accounts.Account, error) {
	return c.client.GetAccount(ctx, key)
}

func (c *remoteChain) Slot(ctx context.Context) (uint64, error) {
	return c.client.GetSlot(ctx)
}

func (c *remoteChain) Close() error {
	return nil
}
