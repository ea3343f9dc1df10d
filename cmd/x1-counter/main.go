// Command x1-counter runs a single-node ledger hosting the counter program
// and talks to it.
//
// Client commands (airdrop, create, increase, show, status) open the local
// data directory unless --rpc-url points them at a running node.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fortiblox/x1-counter/internal/config"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// app carries the loaded configuration between the root command and its
// subcommands.
type app struct {
	v      *viper.Viper
	config *config.Config
	log    *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:           "x1-counter",
		Short:         "Per-user counter program on a single-node ledger",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (yaml, toml or json)")
	flags.String("data-dir", "", "Data directory for the accounts database and transaction log")
	flags.String("rpc-url", "", "JSON-RPC endpoint of a running node")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.StringP("output", "o", "text", "Output format (text or json)")

	for key, flag := range map[string]string{
		"data_dir":  "data-dir",
		"rpc_url":   "rpc-url",
		"log_level": "log-level",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(
		a.keygenCmd(),
		a.addressCmd(),
		a.airdropCmd(),
		a.balanceCmd(),
		a.createCmd(),
		a.increaseCmd(),
		a.showCmd(),
		a.statusCmd(),
		a.serveCmd(),
		a.snapshotCmd(),
	)
	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(a.v, configPath)
	if err != nil {
		return err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	a.config = cfg
	a.log = log
	return nil
}

func isJSONOutputRequested(cmd *cobra.Command) bool {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return false
	}
	return strings.ToLower(output) == "json"
}

// printValue writes v as indented JSON with --output json, or its String
// form otherwise.
func printValue(cmd *cobra.Command, v fmt.Stringer) error {
	if isJSONOutputRequested(cmd) {
		jsonBytes, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.String())
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
