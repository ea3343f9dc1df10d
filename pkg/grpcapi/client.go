package grpcapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/counter"
	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/txlog"
)

// ErrNoCounter is returned by Counter when the user has no counter.
var ErrNoCounter = errors.New("counter not created")

// Client talks to a Ledger gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client LedgerClient

	// ProgramID is the counter program the client derives addresses under.
	ProgramID types.Pubkey

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	ProgramID types.Pubkey
}

// Dial connects to the service at target.
func Dial(target string, opts DialOptions, extra ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}
	programID := opts.ProgramID
	if programID.IsZero() {
		programID = counter.ProgramID
	}
	return &Client{cc: cc, client: NewLedgerClient(cc), ProgramID: programID}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

// LatestBlockhash returns the blockhash new transactions should use.
func (c *Client) LatestBlockhash(ctx context.Context) (types.Hash, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.GetLatestBlockhash(ctx, &emptypb.Empty{})
	if err != nil {
		return types.Hash{}, mapRPC(err)
	}
	return types.HashFromBase58(reply.GetValue())
}

// SendTransaction submits tx and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *svm.Transaction) (types.Signature, error) {
	raw, err := tx.Marshal()
	if err != nil {
		return types.Signature{}, errors.Wrap(err, "marshal transaction")
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.SendTransaction(ctx, wrapperspb.Bytes(raw))
	if err != nil {
		return types.Signature{}, mapRPC(err)
	}
	return types.SignatureFromBase58(reply.GetValue())
}

// Send signs a transaction of ixs with the latest blockhash, submits it and
// returns its receipt. The payer signs first.
func (c *Client) Send(ctx context.Context, payer *types.Keypair, signers []*types.Keypair, ixs ...svm.Instruction) (*txlog.Receipt, error) {
	blockhash, err := c.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := svm.NewTransaction(payer.Pubkey, blockhash, ixs...)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(append([]*types.Keypair{payer}, signers...)...); err != nil {
		return nil, err
	}
	sig, err := c.SendTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	return c.Transaction(ctx, sig)
}

// Transaction returns the receipt of a processed transaction.
func (c *Client) Transaction(ctx context.Context, sig types.Signature) (*txlog.Receipt, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.GetTransaction(ctx, wrapperspb.String(sig.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	var receipt txlog.Receipt
	if err := json.Unmarshal(reply.GetValue(), &receipt); err != nil {
		return nil, errors.Wrap(err, "decode receipt")
	}
	return &receipt, nil
}

// Account returns the account at key.
func (c *Client) Account(ctx context.Context, key types.Pubkey) (*accounts.Account, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.GetAccount(ctx, wrapperspb.String(key.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	return accounts.DeserializeAccount(reply.GetValue())
}

// Counter returns the current count of user's counter.
func (c *Client) Counter(ctx context.Context, user types.Pubkey) (uint8, error) {
	addr, _, err := counter.DeriveAddress(c.ProgramID, user)
	if err != nil {
		return 0, err
	}
	acc, err := c.Account(ctx, addr)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0, ErrNoCounter
	} else if err != nil {
		return 0, err
	}
	if acc.Owner != c.ProgramID {
		return 0, ErrNoCounter
	}
	state, err := counter.DecodeCounter(acc.Data)
	if err != nil {
		return 0, err
	}
	return state.Count, nil
}
