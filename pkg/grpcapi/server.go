// Package grpcapi exposes the ledger over gRPC and provides a client for it.
package grpcapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/txlog"
)

// Backend is the ledger surface the service exposes.
type Backend interface {
	LatestBlockhash() types.Hash
	GetAccount(key types.Pubkey) (*accounts.Account, error)
	SendTransaction(ctx context.Context, tx *svm.Transaction) (*txlog.Receipt, error)
	GetReceipt(sig types.Signature) (*txlog.Receipt, error)
}

// Server implements LedgerServer over a Backend.
type Server struct {
	UnimplementedLedgerServer
	Backend Backend
}

// SendTransaction executes a wire transaction and returns its signature.
// Instruction failures are recorded in the receipt, not returned here.
func (s *Server) SendTransaction(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Backend == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing ledger")
	}
	tx, err := svm.UnmarshalTransaction(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	receipt, err := s.Backend.SendTransaction(ctx, tx)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(receipt.Signature.String()), nil
}

// GetAccount returns the serialized account at a base58 address.
func (s *Server) GetAccount(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Backend == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing ledger")
	}
	key, err := types.PubkeyFromBase58(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	acc, err := s.Backend.GetAccount(key)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(acc.Serialize()), nil
}

func (s *Server) GetLatestBlockhash(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	if s == nil || s.Backend == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing ledger")
	}
	return wrapperspb.String(s.Backend.LatestBlockhash().String()), nil
}

// GetTransaction returns the JSON receipt of a processed transaction.
func (s *Server) GetTransaction(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Backend == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing ledger")
	}
	sig, err := types.SignatureFromBase58(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	receipt, err := s.Backend.GetReceipt(sig)
	if err != nil {
		return nil, mapErr(err)
	}
	b, err := json.Marshal(receipt)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(b), nil
}

// NewGRPCServer creates a gRPC server with the Ledger service registered
// and every call logged.
func NewGRPCServer(backend Backend, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor(log.Named("grpc"))))
	srv := grpc.NewServer(opts...)
	RegisterLedgerServer(srv, &Server{Backend: backend})
	return srv
}

func loggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("call",
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
			zap.Stringer("code", status.Code(err)),
		)
		return resp, err
	}
}

// rejections maps ledger rejections to status codes. The status message
// is the sentinel's text so clients can recover it.
var rejections = []struct {
	err  error
	code codes.Code
}{
	{svm.ErrSignatureFailure, codes.InvalidArgument},
	{svm.ErrSanitizeFailure, codes.InvalidArgument},
	{svm.ErrBlockhashNotFound, codes.FailedPrecondition},
	{svm.ErrAccountNotFound, codes.FailedPrecondition},
	{svm.ErrInsufficientFundsForFee, codes.FailedPrecondition},
	{svm.ErrAlreadyProcessed, codes.AlreadyExists},
	{accounts.ErrAccountNotFound, codes.NotFound},
	{txlog.ErrNotFound, codes.NotFound},
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return status.Error(r.code, r.err.Error())
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// mapRPC recovers the sentinel behind a status returned by mapErr.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, r := range rejections {
		if st.Code() == r.code && st.Message() == r.err.Error() {
			return r.err
		}
	}
	return err
}
