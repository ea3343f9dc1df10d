package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-counter/pkg/accounts"
)

type balanceOutput struct {
	Pubkey   string `json:"pubkey"`
	Lamports uint64 `json:"lamports"`
}

func (o balanceOutput) String() string {
	return fmt.Sprintf("%s: %d lamports", o.Pubkey, o.Lamports)
}

func (a *app) airdropCmd() *cobra.Command {
	var (
		to       string
		lamports uint64
	)
	cmd := &cobra.Command{
		Use:   "airdrop",
		Short: "Credit lamports to an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := parsePubkey(to)
			if err != nil {
				return err
			}
			if lamports == 0 {
				return errors.New("--lamports must be positive")
			}
			c, err := a.openChain()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			if err := c.Airdrop(ctx, key, lamports); err != nil {
				return err
			}
			acc, err := c.Account(ctx, key)
			if err != nil {
				return err
			}
			return printValue(cmd, balanceOutput{Pubkey: key.String(), Lamports: acc.Lamports})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Address or keypair file to credit")
	cmd.Flags().Uint64Var(&lamports, "lamports", 1_000_000_000, "Lamports to credit")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Print an account's lamports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parsePubkey(args[0])
			if err != nil {
				return err
			}
			c, err := a.openChain()
			if err != nil {
				return err
			}
			defer c.Close()

			var lamports uint64
			acc, err := c.Account(cmd.Context(), key)
			switch {
			case errors.Is(err, accounts.ErrAccountNotFound):
			case err != nil:
				return err
			default:
				lamports = acc.Lamports
			}
			return printValue(cmd, balanceOutput{Pubkey: key.String(), Lamports: lamports})
		},
	}
}
