package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/node"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the node and serve JSON-RPC and gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			nc, err := nodeConfig(a.config, a.log)
			if err != nil {
				return err
			}
			n, err := node.Open(nc)
			if err != nil {
				return err
			}
			defer n.Close()

			if err := n.Start(ctx); err != nil {
				return err
			}
			fields := []zap.Field{zap.String("version", Version)}
			if addr := n.RPCAddr(); addr != nil {
				fields = append(fields, zap.String("rpc", addr.String()))
			}
			if addr := n.GRPCAddr(); addr != nil {
				fields = append(fields, zap.String("grpc", addr.String()))
			}
			a.log.Info("node running", fields...)

			<-ctx.Done()
			a.log.Info("shutting down")
			n.Wait()
			return n.Status().LastError
		},
	}
}

type statusOutput struct {
	Slot            uint64 `json:"slot"`
	LatestBlockhash string `json:"latestBlockhash"`
	ProgramID       string `json:"programId"`
	BankHash        string `json:"bankHash,omitempty"`
	Accounts        uint64 `json:"accounts,omitempty"`
	Transactions    uint64 `json:"transactions,omitempty"`
}

func (o statusOutput) String() string {
	s := fmt.Sprintf("slot: %d\nblockhash: %s\nprogram: %s", o.Slot, o.LatestBlockhash, o.ProgramID)
	if o.BankHash != "" {
		s += fmt.Sprintf("\nbank hash: %s\naccounts: %d\ntransactions: %d", o.BankHash, o.Accounts, o.Transactions)
	}
	return s
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the ledger status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.openChain()
			if err != nil {
				return err
			}
			defer c.Close()

			if local, ok := c.(*localChain); ok {
				st := local.node.Status()
				return printValue(cmd, statusOutput{
					Slot:            st.Slot,
					LatestBlockhash: st.LatestBlockhash.String(),
					ProgramID:       st.ProgramID.String(),
					BankHash:        st.BankHash.String(),
					Accounts:        st.AccountsCount,
					Transactions:    st.TxCount,
				})
			}

			ctx := cmd.Context()
			slot, err := c.Slot(ctx)
			if err != nil {
				return err
			}
			blockhash, err := c.LatestBlockhash(ctx)
			if err != nil {
				return err
			}
			return printValue(cmd, statusOutput{
				Slot:            slot,
				LatestBlockhash: blockhash.String(),
				ProgramID:       c.ProgramID().String(),
			})
		},
	}
}

type snapshotOutput struct {
	Path      string `json:"path"`
	Slot      uint64 `json:"slot"`
	Accounts  uint64 `json:"accounts"`
	StateHash string `json:"stateHash"`
}

func (o snapshotOutput) String() string {
	return fmt.Sprintf("%s: slot %d, %d accounts, state hash %s", o.Path, o.Slot, o.Accounts, o.StateHash)
}

func (a *app) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import account snapshots",
	}

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of the local data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			f, err := os.Create(exportPath)
			if err != nil {
				return err
			}
			hdr, err := n.ExportSnapshot(f)
			if err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			return printValue(cmd, newSnapshotOutput(exportPath, hdr))
		},
	}
	exportCmd.Flags().StringVar(&exportPath, "file", "", "Snapshot file to write")
	_ = exportCmd.MarkFlagRequired("file")

	var importPath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Initialize an empty data directory from a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(filepath.Join(a.config.DataDir, "accounts")); err == nil {
				return errors.Errorf("data directory %s is already initialized", a.config.DataDir)
			}
			a.config.SnapshotPath = importPath
			n, err := a.openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			st := n.Status()
			return printValue(cmd, snapshotOutput{
				Path:      importPath,
				Slot:      st.Slot,
				Accounts:  st.AccountsCount,
				StateHash: st.BankHash.String(),
			})
		},
	}
	importCmd.Flags().StringVar(&importPath, "file", "", "Snapshot file to load")
	_ = importCmd.MarkFlagRequired("file")

	cmd.AddCommand(exportCmd, importCmd)
	return cmd
}

func newSnapshotOutput(path string, hdr *accounts.SnapshotHeader) snapshotOutput {
	return snapshotOutput{
		Path:      path,
		Slot:      hdr.Slot,
		Accounts:  hdr.AccountsCount,
		StateHash: hdr.StateHash.String(),
	}
}
