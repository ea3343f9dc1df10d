package rpc

import (
	"encoding/json"
)

// JSONRPCVersion is the protocol version carried by every message.
const JSONRPCVersion = "2.0"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot uint64 `json:"slot"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Commitment levels. The ledger has a single commitment level; the field
// is accepted for compatibility.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Encoding types for account and transaction data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo and getMultipleAccounts.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	Commitment     Commitment `json:"commitment,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// ProgramAccountsConfig configures getProgramAccounts requests.
type ProgramAccountsConfig struct {
	Encoding    Encoding               `json:"encoding,omitempty"`
	Commitment  Commitment             `json:"commitment,omitempty"`
	DataSlice   *DataSlice             `json:"dataSlice,omitempty"`
	Filters     []ProgramAccountFilter `json:"filters,omitempty"`
	WithContext bool                   `json:"withContext,omitempty"`
}

// ProgramAccountFilter filters program accounts.
type ProgramAccountFilter struct {
	Memcmp   *MemcmpFilter `json:"memcmp,omitempty"`
	DataSize *uint64       `json:"dataSize,omitempty"`
}

// MemcmpFilter matches account data at an offset.
type MemcmpFilter struct {
	Offset   uint64   `json:"offset"`
	Bytes    string   `json:"bytes"`
	Encoding Encoding `json:"encoding,omitempty"`
}

// SendTransactionConfig configures sendTransaction requests.
type SendTransactionConfig struct {
	Encoding      Encoding   `json:"encoding,omitempty"`
	SkipPreflight bool       `json:"skipPreflight,omitempty"`
	Commitment    Commitment `json:"preflightCommitment,omitempty"`
}

// SimulateTransactionConfig configures simulateTransaction requests.
type SimulateTransactionConfig struct {
	Encoding   Encoding   `json:"encoding,omitempty"`
	Commitment Commitment `json:"commitment,omitempty"`
}

// SimulateTransactionResult is the outcome of a simulated transaction.
type SimulateTransactionResult struct {
	Err           interface{} `json:"err"`
	Logs          []string    `json:"logs"`
	UnitsConsumed uint64      `json:"unitsConsumed"`
}

// SignaturesForAddressConfig configures getSignaturesForAddress requests.
type SignaturesForAddressConfig struct {
	Limit      int        `json:"limit,omitempty"`
	Commitment Commitment `json:"commitment,omitempty"`
}

// AccountInfo represents account information returned by RPC.
type AccountInfo struct {
	Data       interface{} `json:"data"` // [encoded, encoding]
	Executable bool        `json:"executable"`
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	RentEpoch  uint64      `json:"rentEpoch"`
	Space      uint64      `json:"space"`
}

// KeyedAccountInfo wraps AccountInfo with its pubkey.
type KeyedAccountInfo struct {
	Pubkey  string       `json:"pubkey"`
	Account *AccountInfo `json:"account"`
}

// TransactionMeta contains transaction execution metadata.
type TransactionMeta struct {
	Err                  interface{} `json:"err"`
	Fee                  uint64      `json:"fee"`
	PreBalances          []uint64    `json:"preBalances"`
	PostBalances         []uint64    `json:"postBalances"`
	LogMessages          []string    `json:"logMessages"`
	ComputeUnitsConsumed uint64      `json:"computeUnitsConsumed"`
}

// TransactionResponse represents a transaction returned by getTransaction.
type TransactionResponse struct {
	Slot        uint64           `json:"slot"`
	BlockTime   int64            `json:"blockTime"`
	Transaction TransactionKeys  `json:"transaction"`
	Meta        *TransactionMeta `json:"meta"`
	BankHash    string           `json:"bankHash"`
}

// TransactionKeys is the account list of a recorded transaction.
type TransactionKeys struct {
	Signatures  []string `json:"signatures"`
	AccountKeys []string `json:"accountKeys"`
}

// SignatureInfo represents one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string      `json:"signature"`
	Slot               uint64      `json:"slot"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// SignatureStatus represents the status of a transaction signature.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// VersionInfo represents node version information.
type VersionInfo struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint64 `json:"feature-set"`
}

// LatestBlockhash represents the latest blockhash.
type LatestBlockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// CounterInfo is the result of getCounter.
type CounterInfo struct {
	User    string `json:"user"`
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
	Count   uint8  `json:"count"`
}
