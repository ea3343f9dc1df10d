package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/counter"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

// errTransactionFailed is returned after printing a transaction whose
// instructions failed.
var errTransactionFailed = errors.New("transaction failed")

// signerFlags are the keypair files of a counter instruction.
type signerFlags struct {
	userKey  string
	payerKey string
}

func (f *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userKey, "user-key", "", "Keypair file of the counter's user")
	cmd.Flags().StringVar(&f.payerKey, "payer-key", "", "Keypair file of the fee payer")
	_ = cmd.MarkFlagRequired("user-key")
	_ = cmd.MarkFlagRequired("payer-key")
}

func (f *signerFlags) load() (user, payer *types.Keypair, err error) {
	if user, err = readKeypair(f.userKey); err != nil {
		return nil, nil, err
	}
	if payer, err = readKeypair(f.payerKey); err != nil {
		return nil, nil, err
	}
	if user.Pubkey == payer.Pubkey {
		return nil, nil, errors.New("user and payer must be different keys")
	}
	return user, payer, nil
}

// submit signs ixs with payer and user and prints the result.
func (a *app) submit(cmd *cobra.Command, c chain, payer, user *types.Keypair, ixs ...svm.Instruction) error {
	ctx := cmd.Context()
	blockhash, err := c.LatestBlockhash(ctx)
	if err != nil {
		return err
	}
	tx, err := svm.NewTransaction(payer.Pubkey, blockhash, ixs...)
	if err != nil {
		return err
	}
	if err := tx.Sign(payer, user); err != nil {
		return err
	}
	out, err := c.Submit(ctx, tx)
	if err != nil {
		return err
	}
	if err := printValue(cmd, out); err != nil {
		return err
	}
	if out.Err != "" {
		return errTransactionFailed
	}
	return nil
}

func (a *app) createCmd() *cobra.Command {
	var signers signerFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the user's counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, payer, err := signers.load()
			if err != nil {
				return err
			}
			c, err := a.openChain()
			if err != nil {
				return err
			}
			defer c.Close()

			ix, err := counter.CreateCounterInstruction(c.ProgramID(), user.Pubkey, payer.Pubkey)
			if err != nil {
				return err
			}
			return a.submit(cmd, c, payer, user, ix)
		},
	}
	signers.register(cmd)
	return cmd
}

func (a *app) increaseCmd() *cobra.Command {
	var (
		signers signerFlags
		delta   uint8
	)
	cmd := &cobra.Command{
		Use:   "increase",
		Short: "Add delta to the user's counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, payer, err := signers.load()
			if err != nil {
				return err
			}
			c, err := a.openChain()
			if err != nil {
				return err
			}
			defer c.Close()

			ix, err := counter.IncreaseCounterInstruction(c.ProgramID(), user.Pubkey, payer.Pubkey, delta)
			if err != nil {
				return err
			}
			return a.submit(cmd, c, payer, user, ix)
		},
	}
	signers.register(cmd)
	cmd.Flags().Uint8Var(&delta, "delta", 1, "Amount to add")
	return cmd
}

type counterOutput struct {
	User    string `json:"user"`
	Address string `json:"address"`
	Count   uint8  `json:"count"`
}

func (o counterOutput) String() string {
	return fmt.Sprintf("%s: %d", o.User, o.Count)
}

// readCounter loads user's counter. It returns accounts.ErrAccountNotFound
// when the counter was never created.
func readCounter(ctx context.Context, c chain, user types.Pubkey) (counterOutput, error) {
	addr, _, err := counter.DeriveAddress(c.ProgramID(), user)
	if err != nil {
		return counterOutput{}, err
	}
	acc, err := c.Account(ctx, addr)
	if err != nil {
		return counterOutput{}, err
	}
	if acc.Owner != c.ProgramID() {
		return counterOutput{}, accounts.ErrAccountNotFound
	}
	state, err := counter.DecodeCounter(acc.Data)
	if err != nil {
		return counterOutput{}, err
	}
	return counterOutput{User: user.String(), Address: addr.String(), Count: state.Count}, nil
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Print the user's counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parsePubkey(args[0])
			if err != nil {
				return err
			}
			c, err := a.openChain()
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := readCounter(cmd.Context(), c, user)
			if errors.Is(err, accounts.ErrAccountNotFound) {
				return errors.Errorf("no counter for %s", user)
			}
			if err != nil {
				return err
			}
			return printValue(cmd, out)
		},
	}
}
