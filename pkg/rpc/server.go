// Package rpc implements a Solana-compatible JSON-RPC 2.0 server over the
// counter ledger.
//
// Supported methods:
//   - Account: getAccountInfo, getBalance, getMultipleAccounts, getProgramAccounts
//   - Transaction: sendTransaction, getTransaction, getSignaturesForAddress, getSignatureStatuses
//   - Cluster: getSlot, getHealth, getVersion, getGenesisHash
//   - Info: getLatestBlockhash, isBlockhashValid, getMinimumBalanceForRentExemption, getFeeForMessage
//   - Test validator: requestAirdrop
//   - Counter: getCounter
package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/txlog"
)

// Backend is the ledger the server exposes.
type Backend interface {
	Slot() uint64
	LatestBlockhash() types.Hash
	GenesisHash() types.Hash
	IsBlockhashValid(hash types.Hash) bool
	BlockhashWindow() uint64
	ProgramID() types.Pubkey
	Rent() types.Rent
	Fee(tx *svm.Transaction) uint64

	GetAccount(key types.Pubkey) (*accounts.Account, error)
	IterateAccounts(fn func(key types.Pubkey, acc *accounts.Account) error) error
	Airdrop(key types.Pubkey, lamports uint64) (uint64, error)

	SendTransaction(ctx context.Context, tx *svm.Transaction) (*txlog.Receipt, error)
	SimulateTransaction(ctx context.Context, tx *svm.Transaction) (*svm.ExecutionResult, error)
	GetReceipt(sig types.Signature) (*txlog.Receipt, error)
	SignaturesForAddress(addr types.Pubkey, limit int) ([]txlog.SignatureInfo, error)
}

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string

	// EnableAirdrop serves requestAirdrop.
	EnableAirdrop bool

	// MaxAirdropLamports caps a single requestAirdrop.
	MaxAirdropLamports uint64

	Logger *zap.Logger
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:               "127.0.0.1:8899",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		MaxRequestSize:     50 * 1024,
		EnableCORS:         true,
		EnableAirdrop:      true,
		MaxAirdropLamports: 1_000_000_000_000,
		Logger:             zap.NewNop(),
	}
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config  Config
	backend Backend
	log     *zap.Logger

	healthy  bool
	healthMu sync.RWMutex

	handlers map[string]handlerFunc

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server.
func New(config Config, backend Backend) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = DefaultConfig().MaxRequestSize
	}
	s := &Server{
		config:   config,
		backend:  backend,
		log:      config.Logger.Named("rpc"),
		healthy:  true,
		handlers: make(map[string]handlerFunc),
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	// Account methods
	s.handlers["getAccountInfo"] = s.getAccountInfo
	s.handlers["getBalance"] = s.getBalance
	s.handlers["getMultipleAccounts"] = s.getMultipleAccounts
	s.handlers["getProgramAccounts"] = s.getProgramAccounts

	// Transaction methods
	s.handlers["sendTransaction"] = s.sendTransaction
	s.handlers["simulateTransaction"] = s.simulateTransaction
	s.handlers["getTransaction"] = s.getTransaction
	s.handlers["getSignaturesForAddress"] = s.getSignaturesForAddress
	s.handlers["getSignatureStatuses"] = s.getSignatureStatuses

	// Cluster methods
	s.handlers["getSlot"] = s.getSlot
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getGenesisHash"] = s.getGenesisHash

	// Info methods
	s.handlers["getLatestBlockhash"] = s.getLatestBlockhash
	s.handlers["isBlockhashValid"] = s.isBlockhashValid
	s.handlers["getMinimumBalanceForRentExemption"] = s.getMinimumBalanceForRentExemption
	s.handlers["getFeeForMessage"] = s.getFeeForMessage

	if s.config.EnableAirdrop {
		s.handlers["requestAirdrop"] = s.requestAirdrop
	}

	s.handlers["getCounter"] = s.getCounter
}

// Handler returns the HTTP handler serving JSON-RPC requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	mux.HandleFunc("/health", s.handleHealth)
	return s.corsMiddleware(mux)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	srv := s.server
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("json-rpc server listening", zap.Stringer("addr", ln.Addr()))
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.config.Addr)
	}
	return s.Serve(ctx, ln)
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, solana-client")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth answers load balancer health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	if !s.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "unhealthy")
		return
	}
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		s.write(w, errorResponse(nil, ErrParseError))
		return
	}

	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(r.Context(), w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.write(w, errorResponse(nil, ErrParseError))
		return
	}
	s.write(w, s.handle(r.Context(), req))
}

func (s *Server) handleBatchRequest(ctx context.Context, w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.write(w, errorResponse(nil, ErrParseError))
		return
	}
	if len(requests) == 0 {
		s.write(w, errorResponse(nil, ErrInvalidRequest))
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		responses[i] = s.handle(ctx, req)
	}
	s.write(w, responses)
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	if req.JSONRPC != JSONRPCVersion {
		return errorResponse(req.ID, ErrInvalidRequest)
	}

	s.log.Debug("request", zap.String("method", req.Method), zap.Any("id", req.ID))
	result, rpcErr := s.dispatch(ctx, req.Method, req.Params)
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, InternalServerErrorf("encode result: %v", err))
	}
	return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: raw}
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, "Method not found: "+method)
	}
	return handler(ctx, params)
}

func errorResponse(id interface{}, err *RPCError) Response {
	return Response{JSONRPC: JSONRPCVersion, ID: id, Error: err}
}

func (s *Server) write(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}
