// Package node wires storage, the ledger and the network services into a
// single runnable counter node.
package node

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/grpcapi"
	"github.com/fortiblox/x1-counter/pkg/ledger"
	"github.com/fortiblox/x1-counter/pkg/rpc"
	"github.com/fortiblox/x1-counter/pkg/txlog"
)

// Node errors.
var (
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrClosed         = errors.New("node is closed")
)

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data. The accounts
	// database lives in DataDir/accounts, the transaction log in
	// DataDir/txlog.db.
	DataDir string

	// InMemory keeps accounts in memory. The transaction log is still
	// written under DataDir.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// SnapshotPath is an optional snapshot loaded into an empty accounts
	// database.
	SnapshotPath string

	// RPCEnabled enables the JSON-RPC server.
	RPCEnabled bool
	RPCAddr    string

	// GRPCEnabled enables the gRPC ledger service.
	GRPCEnabled bool
	GRPCAddr    string

	EnableAirdrop bool

	Ledger ledger.Config
	Logger *zap.Logger
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:       "./data",
		RPCEnabled:    true,
		RPCAddr:       "127.0.0.1:8899",
		GRPCEnabled:   true,
		GRPCAddr:      "127.0.0.1:8900",
		EnableAirdrop: true,
		Ledger:        ledger.DefaultConfig(),
		Logger:        zap.NewNop(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.Wrap(ErrConfigInvalid, "data directory is required")
	}
	if c.RPCEnabled && c.RPCAddr == "" {
		return errors.Wrap(ErrConfigInvalid, "rpc address is required")
	}
	if c.GRPCEnabled && c.GRPCAddr == "" {
		return errors.Wrap(ErrConfigInvalid, "grpc address is required")
	}
	return nil
}

// Node owns the node's storage and services.
type Node struct {
	config Config
	log    *zap.Logger

	accounts accounts.DB
	txlog    *txlog.BoltLog
	ledger   *ledger.Ledger

	rpcServer  *rpc.Server
	grpcServer *grpc.Server

	mu       sync.Mutex
	rpcAddr  net.Addr
	grpcAddr net.Addr

	running   atomic.Bool
	closed    atomic.Bool
	startTime time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	lastError   error
	lastErrorMu sync.RWMutex
}

// Open opens the node's storage and ledger. Services are not started until
// Start is called.
func Open(config Config) (*Node, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	n := &Node{config: config, log: config.Logger}
	if err := n.initialize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) initialize() error {
	if err := os.MkdirAll(n.config.DataDir, 0o755); err != nil {
		return errors.Wrap(err, "create data directory")
	}

	accountsConfig := accounts.DefaultBadgerDBConfig(filepath.Join(n.config.DataDir, "accounts"))
	accountsConfig.InMemory = n.config.InMemory
	if n.config.InMemory {
		accountsConfig.Path = ""
	}
	accountsConfig.SyncWrites = n.config.SyncWrites
	accountsConfig.Logger = badgerLogger{n.log.Named("badger").Sugar()}
	accts, err := accounts.NewBadgerDB(accountsConfig)
	if err != nil {
		return errors.Wrap(err, "open accounts database")
	}
	n.accounts = accts

	if err := n.loadInitialSnapshot(); err != nil {
		n.closeStorage()
		return errors.Wrap(err, "load snapshot")
	}

	txlogConfig := txlog.DefaultConfig(filepath.Join(n.config.DataDir, "txlog.db"))
	txlogConfig.NoSync = !n.config.SyncWrites
	receipts, err := txlog.Open(txlogConfig)
	if err != nil {
		n.closeStorage()
		return errors.Wrap(err, "open transaction log")
	}
	n.txlog = receipts

	ledgerConfig := n.config.Ledger
	ledgerConfig.Logger = n.log
	l, err := ledger.New(n.accounts, n.txlog, ledgerConfig)
	if err != nil {
		n.closeStorage()
		return errors.Wrap(err, "open ledger")
	}
	n.ledger = l

	n.log.Info("node opened",
		zap.String("data_dir", n.config.DataDir),
		zap.Uint64("slot", l.Slot()),
		zap.Stringer("program_id", l.ProgramID()),
		zap.Stringer("bank_hash", l.BankHash()),
	)
	return nil
}

// loadInitialSnapshot loads the configured snapshot when the accounts
// database is empty.
func (n *Node) loadInitialSnapshot() error {
	if n.config.SnapshotPath == "" {
		return nil
	}
	count, err := n.accounts.AccountsCount()
	if err != nil {
		return err
	}
	if count > 0 {
		n.log.Info("accounts database not empty, skipping snapshot", zap.String("path", n.config.SnapshotPath))
		return nil
	}

	f, err := os.Open(n.config.SnapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, err := accounts.ReadSnapshot(f, n.accounts)
	if err != nil {
		return err
	}
	n.log.Info("snapshot loaded",
		zap.String("path", n.config.SnapshotPath),
		zap.Uint64("slot", hdr.Slot),
		zap.Uint64("accounts", hdr.AccountsCount),
		zap.Stringer("state_hash", hdr.StateHash),
	)
	return nil
}

func (n *Node) closeStorage() error {
	var err error
	if n.ledger != nil {
		// the ledger closes the txlog and accounts database
		return n.ledger.Close()
	}
	if n.txlog != nil {
		err = multierr.Append(err, n.txlog.Close())
	}
	if n.accounts != nil {
		err = multierr.Append(err, n.accounts.Close())
	}
	return err
}

// ExportSnapshot writes a snapshot of the node's accounts to w.
func (n *Node) ExportSnapshot(w io.Writer) (*accounts.SnapshotHeader, error) {
	return n.ledger.WriteSnapshot(w)
}

// Ledger returns the node's ledger.
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// Start starts the enabled network services. It returns once they are
// listening; the services run until ctx is cancelled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()

	if n.config.RPCEnabled {
		ln, err := net.Listen("tcp", n.config.RPCAddr)
		if err != nil {
			n.abortStart()
			return errors.Wrapf(err, "listen rpc %s", n.config.RPCAddr)
		}
		rpcConfig := rpc.DefaultConfig()
		rpcConfig.Addr = n.config.RPCAddr
		rpcConfig.EnableAirdrop = n.config.EnableAirdrop
		rpcConfig.Logger = n.log
		n.rpcServer = rpc.New(rpcConfig, n.ledger)

		n.mu.Lock()
		n.rpcAddr = ln.Addr()
		n.mu.Unlock()

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.rpcServer.Serve(ctx, ln); err != nil {
				n.setLastError(errors.Wrap(err, "rpc server"))
				n.log.Error("rpc server stopped", zap.Error(err))
			}
		}()
	}

	if n.config.GRPCEnabled {
		ln, err := net.Listen("tcp", n.config.GRPCAddr)
		if err != nil {
			n.abortStart()
			return errors.Wrapf(err, "listen grpc %s", n.config.GRPCAddr)
		}
		n.grpcServer = grpcapi.NewGRPCServer(n.ledger, n.log)

		n.mu.Lock()
		n.grpcAddr = ln.Addr()
		n.mu.Unlock()

		n.log.Info("grpc server listening", zap.Stringer("addr", ln.Addr()))
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.grpcServer.Serve(ln); err != nil {
				n.setLastError(errors.Wrap(err, "grpc server"))
				n.log.Error("grpc server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			n.grpcServer.GracefulStop()
		}()
	}

	return nil
}

func (n *Node) abortStart() {
	n.cancel()
	n.wg.Wait()
	n.running.Store(false)
}

// Wait blocks until every service has stopped.
func (n *Node) Wait() {
	n.wg.Wait()
}

// Stop stops the network services. Storage stays open.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}
	n.cancel()
	n.wg.Wait()
	n.running.Store(false)
	n.log.Info("node stopped", zap.Duration("uptime", time.Since(n.startTime)))
	return nil
}

// Close stops the node if running and closes its storage.
func (n *Node) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if n.running.Load() {
		_ = n.Stop()
	}
	return n.closeStorage()
}

// RPCAddr returns the JSON-RPC listen address, or nil when not serving.
func (n *Node) RPCAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rpcAddr
}

// GRPCAddr returns the gRPC listen address, or nil when not serving.
func (n *Node) GRPCAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.grpcAddr
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	var accountsCount uint64
	if n.accounts != nil {
		accountsCount, _ = n.accounts.AccountsCount()
	}
	var txCount uint64
	if n.txlog != nil {
		txCount = n.txlog.Count()
	}
	var uptime time.Duration
	if n.running.Load() {
		uptime = time.Since(n.startTime)
	}

	return &Status{
		Slot:            n.ledger.Slot(),
		BankHash:        n.ledger.BankHash(),
		LatestBlockhash: n.ledger.LatestBlockhash(),
		ProgramID:       n.ledger.ProgramID(),
		AccountsCount:   accountsCount,
		TxCount:         txCount,
		IsRunning:       n.running.Load(),
		Uptime:          uptime,
		LastError:       n.getLastError(),
	}
}

// Status contains the current node status.
type Status struct {
	Slot            uint64
	BankHash        types.Hash
	LatestBlockhash types.Hash
	ProgramID       types.Pubkey

	// AccountsCount is the total number of accounts in the database.
	AccountsCount uint64

	// TxCount is the number of transactions in the log.
	TxCount uint64

	IsRunning bool
	Uptime    time.Duration
	LastError error
}

// String renders the status for the CLI.
func (s *Status) String() string {
	return fmt.Sprintf("slot=%d bank_hash=%s blockhash=%s accounts=%d transactions=%d",
		s.Slot, s.BankHash, s.LatestBlockhash, s.AccountsCount, s.TxCount)
}

func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}

// badgerLogger routes badger's logs through zap.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }
