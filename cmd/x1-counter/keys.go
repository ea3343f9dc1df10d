package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/counter"
)

// readKeypair loads a JSON byte-array keypair file.
func readKeypair(path string) (*types.Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read keypair")
	}
	var kp types.Keypair
	if err := json.Unmarshal(raw, &kp); err != nil {
		return nil, errors.Wrapf(err, "parse keypair %s", path)
	}
	return &kp, nil
}

func writeKeypair(path string, kp *types.Keypair) error {
	raw, err := json.Marshal(kp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// parsePubkey accepts a base58 address or the path of a keypair file.
func parsePubkey(s string) (types.Pubkey, error) {
	if key, err := types.PubkeyFromBase58(s); err == nil {
		return key, nil
	}
	kp, err := readKeypair(s)
	if err != nil {
		return types.Pubkey{}, errors.Errorf("%q is neither an address nor a keypair file", s)
	}
	return kp.Pubkey, nil
}

type keyOutput struct {
	Pubkey string `json:"pubkey"`
	Path   string `json:"path"`
}

func (k keyOutput) String() string {
	return fmt.Sprintf("%s (%s)", k.Pubkey, k.Path)
}

func (a *app) keygenCmd() *cobra.Command {
	var (
		out   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a keypair file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(out); err == nil && !force {
				return errors.Errorf("%s already exists, use --force to overwrite", out)
			}
			kp, err := types.NewKeypair()
			if err != nil {
				return err
			}
			if err := writeKeypair(out, kp); err != nil {
				return errors.Wrap(err, "write keypair")
			}
			return printValue(cmd, keyOutput{Pubkey: kp.Pubkey.String(), Path: out})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Path to write the keypair to")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

type addressOutput struct {
	User    string `json:"user"`
	Program string `json:"program"`
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

func (o addressOutput) String() string {
	return fmt.Sprintf("%s (bump %d)", o.Address, o.Bump)
}

func (a *app) addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address <user>",
		Short: "Derive the counter address of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parsePubkey(args[0])
			if err != nil {
				return err
			}
			programID, err := a.config.Program()
			if err != nil {
				return err
			}
			addr, bump, err := counter.DeriveAddress(programID, user)
			if err != nil {
				return err
			}
			return printValue(cmd, addressOutput{
				User:    user.String(),
				Program: programID.String(),
				Address: addr.String(),
				Bump:    bump,
			})
		},
	}
}
