package rpc

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/counter"
	"github.com/fortiblox/x1-counter/pkg/svm"
	"github.com/fortiblox/x1-counter/pkg/svm/programs/system"
	"github.com/fortiblox/x1-counter/pkg/txlog"
)

// Version information.
const (
	SolanaCore = "x1-counter-1.0.0"
	FeatureSet = 0
)

// maxSignaturesLimit caps getSignaturesForAddress.
const maxSignaturesLimit = 1000

// maxMultipleAccounts caps getMultipleAccounts and getSignatureStatuses.
const maxMultipleAccounts = 100

// parseArgs splits positional params. A missing params field is an empty list.
func parseArgs(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	if len(params) == 0 || string(params) == "null" {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}
	return args, nil
}

func parsePubkeyArg(args []json.RawMessage, i int) (types.Pubkey, *RPCError) {
	if len(args) <= i {
		return types.Pubkey{}, InvalidParamsError("missing pubkey parameter")
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return types.Pubkey{}, InvalidParamsError("invalid pubkey")
	}
	pubkey, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("Invalid param: %v", err)
	}
	return pubkey, nil
}

func parseConfig(args []json.RawMessage, i int, config interface{}) *RPCError {
	if len(args) <= i || string(args[i]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[i], config); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

func (s *Server) checkMinContextSlot(minSlot *uint64) (uint64, *RPCError) {
	slot := s.backend.Slot()
	if minSlot != nil && *minSlot > slot {
		return slot, MinContextSlotError(*minSlot, slot)
	}
	return slot, nil
}

// Account Methods

// getAccountInfo retrieves account information.
func (s *Server) getAccountInfo(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyArg(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	info, rpcErr := s.lookupAccount(pubkey, config)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: info}, nil
}

// getBalance retrieves account balance.
func (s *Server) getBalance(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyArg(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var lamports uint64
	account, err := s.backend.GetAccount(pubkey)
	switch {
	case err == nil:
		lamports = account.Lamports
	case !errors.Is(err, accounts.ErrAccountNotFound):
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: lamports}, nil
}

// getMultipleAccounts retrieves multiple accounts.
func (s *Server) getMultipleAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing pubkeys parameter")
	}
	var keys []string
	if err := json.Unmarshal(args[0], &keys); err != nil {
		return nil, InvalidParamsError("invalid pubkeys")
	}
	if len(keys) > maxMultipleAccounts {
		return nil, InvalidParamsErrorf("Too many inputs provided; max %d", maxMultipleAccounts)
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	infos := make([]*AccountInfo, len(keys))
	for i, k := range keys {
		pubkey, err := types.PubkeyFromBase58(k)
		if err != nil {
			return nil, InvalidParamsErrorf("Invalid param: %v", err)
		}
		if infos[i], rpcErr = s.lookupAccount(pubkey, config); rpcErr != nil {
			return nil, rpcErr
		}
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: infos}, nil
}

// getProgramAccounts returns every account owned by a program.
func (s *Server) getProgramAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	program, rpcErr := parsePubkeyArg(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config ProgramAccountsConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	filters, rpcErr := compileFilters(config.Filters)
	if rpcErr != nil {
		return nil, rpcErr
	}

	slot := s.backend.Slot()
	result := []KeyedAccountInfo{}
	err := s.backend.IterateAccounts(func(key types.Pubkey, acc *accounts.Account) error {
		if acc.Owner != program || !filters.match(acc.Data) {
			return nil
		}
		info, err := accountToAccountInfo(acc, config.Encoding, config.DataSlice)
		if err != nil {
			return err
		}
		result = append(result, KeyedAccountInfo{Pubkey: key.String(), Account: info})
		return nil
	})
	if err != nil {
		return nil, InternalServerErrorf("failed to iterate accounts: %v", err)
	}

	if config.WithContext {
		return ResponseWithContext{Context: Context{Slot: slot}, Value: result}, nil
	}
	return result, nil
}

// Transaction Methods

// sendTransaction submits a signed wire transaction and returns its
// signature. Unless skipPreflight is set the transaction is simulated
// first, and a failing simulation is reported as a preflight error with
// the program logs; nothing is committed or charged. Without preflight a
// failing transaction is committed with its fee charged and its error is
// visible through getSignatureStatuses and getTransaction.
func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SendTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := decodeTransactionArg(args, config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if !config.SkipPreflight {
		res, err := s.backend.SimulateTransaction(ctx, tx)
		if err != nil {
			return nil, rejectedError(err)
		}
		if !res.Success {
			return nil, NewRPCErrorWithData(SendTransactionPreflightFailure,
				"Transaction simulation failed: "+res.Err.Error(),
				map[string]interface{}{"err": res.Err.Error(), "logs": res.Logs, "unitsConsumed": res.ComputeUnitsConsumed})
		}
	}

	receipt, err := s.backend.SendTransaction(ctx, tx)
	if err != nil {
		return nil, rejectedError(err)
	}
	return receipt.Signature.String(), nil
}

// simulateTransaction executes a signed wire transaction against the
// current state without committing it.
func (s *Server) simulateTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SimulateTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := decodeTransactionArg(args, config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	slot := s.backend.Slot()
	res, err := s.backend.SimulateTransaction(ctx, tx)
	if err != nil {
		return nil, rejectedError(err)
	}
	result := SimulateTransactionResult{Logs: res.Logs, UnitsConsumed: res.ComputeUnitsConsumed}
	if res.Err != nil {
		result.Err = res.Err.Error()
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: result}, nil
}

func decodeTransactionArg(args []json.RawMessage, encoding Encoding) (*svm.Transaction, *RPCError) {
	if len(args) < 1 {
		return nil, InvalidParamsError("missing transaction parameter")
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	raw, err := DecodeTransaction(encoded, encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("failed to decode transaction: %v", err)
	}
	tx, err := svm.UnmarshalTransaction(raw)
	if err != nil {
		return nil, InvalidParamsErrorf("failed to deserialize transaction: %v", err)
	}
	return tx, nil
}

// rejectedError maps a ledger rejection to its RPC error.
func rejectedError(err error) *RPCError {
	if errors.Is(err, svm.ErrSignatureFailure) {
		return NewRPCError(TransactionSignatureVerificationFailure, err.Error())
	}
	return NewRPCErrorWithData(SendTransactionPreflightFailure,
		"Transaction simulation failed: "+err.Error(),
		map[string]interface{}{"err": err.Error()})
}

// getTransaction returns a processed transaction with its metadata.
func (s *Server) getTransaction(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, rpcErr := parseSignatureArg(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	receipt, err := s.backend.GetReceipt(sig)
	if errors.Is(err, txlog.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, InternalServerErrorf("failed to get transaction: %v", err)
	}
	return receiptToResponse(receipt), nil
}

// getSignaturesForAddress returns signatures referencing an address,
// newest first.
func (s *Server) getSignaturesForAddress(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parsePubkeyArg(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SignaturesForAddressConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	if config.Limit <= 0 {
		config.Limit = maxSignaturesLimit
	}
	if config.Limit > maxSignaturesLimit {
		return nil, InvalidParamsErrorf("Invalid limit; max %d", maxSignaturesLimit)
	}

	infos, err := s.backend.SignaturesForAddress(addr, config.Limit)
	if err != nil {
		return nil, InternalServerErrorf("failed to get signatures: %v", err)
	}
	result := make([]SignatureInfo, len(infos))
	for i, info := range infos {
		result[i] = SignatureInfo{
			Signature:          info.Signature.String(),
			Slot:               info.Slot,
			Err:                errValue(info.Err),
			ConfirmationStatus: string(CommitmentFinalized),
		}
	}
	return result, nil
}

// getSignatureStatuses returns the status of each signature, or null for
// unknown ones.
func (s *Server) getSignatureStatuses(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing signatures parameter")
	}
	var sigs []string
	if err := json.Unmarshal(args[0], &sigs); err != nil {
		return nil, InvalidParamsError("invalid signatures")
	}
	if len(sigs) > maxMultipleAccounts {
		return nil, InvalidParamsErrorf("Too many inputs provided; max %d", maxMultipleAccounts)
	}

	statuses := make([]*SignatureStatus, len(sigs))
	for i, str := range sigs {
		sig, err := types.SignatureFromBase58(str)
		if err != nil {
			return nil, InvalidParamsErrorf("Invalid param: %v", err)
		}
		receipt, err := s.backend.GetReceipt(sig)
		if errors.Is(err, txlog.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, InternalServerErrorf("failed to get status: %v", err)
		}
		statuses[i] = &SignatureStatus{
			Slot:               receipt.Slot,
			Err:                errValue(receipt.Err),
			ConfirmationStatus: string(CommitmentFinalized),
		}
	}
	return ResponseWithContext{Context: Context{Slot: s.backend.Slot()}, Value: statuses}, nil
}

// Cluster Methods

func (s *Server) getSlot(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return s.backend.Slot(), nil
}

func (s *Server) getHealth(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

func (s *Server) getVersion(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{SolanaCore: SolanaCore, FeatureSet: FeatureSet}, nil
}

func (s *Server) getGenesisHash(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return s.backend.GenesisHash().String(), nil
}

// Info Methods

func (s *Server) getLatestBlockhash(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	slot := s.backend.Slot()
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value: LatestBlockhash{
			Blockhash:            s.backend.LatestBlockhash().String(),
			LastValidBlockHeight: slot + s.backend.BlockhashWindow(),
		},
	}, nil
}

func (s *Server) isBlockhashValid(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing blockhash parameter")
	}
	var str string
	if err := json.Unmarshal(args[0], &str); err != nil {
		return nil, InvalidParamsError("invalid blockhash")
	}
	hash, err := types.HashFromBase58(str)
	if err != nil {
		return nil, InvalidParamsErrorf("Invalid param: %v", err)
	}
	return ResponseWithContext{
		Context: Context{Slot: s.backend.Slot()},
		Value:   s.backend.IsBlockhashValid(hash),
	}, nil
}

func (s *Server) getMinimumBalanceForRentExemption(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing data length parameter")
	}
	var dataLen uint64
	if err := json.Unmarshal(args[0], &dataLen); err != nil {
		return nil, InvalidParamsError("invalid data length")
	}
	if dataLen > system.MaxPermittedDataLength {
		return nil, InvalidParamsErrorf("data length %d exceeds maximum %d", dataLen, system.MaxPermittedDataLength)
	}
	return s.backend.Rent().MinimumBalance(dataLen), nil
}

// getFeeForMessage returns the fee for a base64 encoded message.
func (s *Server) getFeeForMessage(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing message parameter")
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid message")
	}
	raw, err := DecodeTransaction(encoded, EncodingBase64)
	if err != nil || len(raw) < 3 {
		return nil, InvalidParamsError("invalid message")
	}

	// Only the header is needed to price a message.
	tx := &svm.Transaction{}
	tx.Message.Header = svm.MessageHeader{
		NumRequiredSignatures:       raw[0],
		NumReadonlySignedAccounts:   raw[1],
		NumReadonlyUnsignedAccounts: raw[2],
	}
	return ResponseWithContext{Context: Context{Slot: s.backend.Slot()}, Value: s.backend.Fee(tx)}, nil
}

// requestAirdrop credits lamports to an account. The airdrop is applied
// directly to the accounts store; the returned signature identifies the
// request only.
func (s *Server) requestAirdrop(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyArg(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 2 {
		return nil, InvalidParamsError("missing lamports parameter")
	}
	var lamports uint64
	if err := json.Unmarshal(args[1], &lamports); err != nil {
		return nil, InvalidParamsError("invalid lamports")
	}
	if lamports == 0 || lamports > s.config.MaxAirdropLamports {
		return nil, InvalidParamsErrorf("airdrop must be between 1 and %d lamports", s.config.MaxAirdropLamports)
	}

	if _, err := s.backend.Airdrop(pubkey, lamports); err != nil {
		return nil, InternalServerErrorf("airdrop failed: %v", err)
	}
	var buf bytes.Buffer
	buf.Write(pubkey[:])
	buf.WriteString("airdrop")
	blockhash := s.backend.LatestBlockhash()
	buf.Write(blockhash[:])
	digest := types.ComputeHash(buf.Bytes())
	var sig types.Signature
	copy(sig[:], digest[:])
	copy(sig[32:], pubkey[:])
	return sig.String(), nil
}

// Counter Methods

// getCounter returns the counter of a user under the ledger's program.
// The value is null when the counter has not been created.
func (s *Server) getCounter(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parsePubkeyArg(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	programID := s.backend.ProgramID()
	addr, bump, err := counter.DeriveAddress(programID, user)
	if err != nil {
		return nil, InternalServerErrorf("derive counter address: %v", err)
	}
	slot := s.backend.Slot()

	acc, err := s.backend.GetAccount(addr)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return ResponseWithContext{Context: Context{Slot: slot}, Value: nil}, nil
	} else if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	if acc.Owner != programID {
		return ResponseWithContext{Context: Context{Slot: slot}, Value: nil}, nil
	}
	state, err := counter.DecodeCounter(acc.Data)
	if err != nil {
		return nil, InternalServerErrorf("decode counter %s: %v", addr, err)
	}
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value: CounterInfo{
			User:    user.String(),
			Address: addr.String(),
			Bump:    bump,
			Count:   state.Count,
		},
	}, nil
}

// Helpers

func (s *Server) lookupAccount(pubkey types.Pubkey, config AccountInfoConfig) (*AccountInfo, *RPCError) {
	account, err := s.backend.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	info, err := accountToAccountInfo(account, config.Encoding, config.DataSlice)
	if err != nil {
		return nil, InternalServerErrorf("%v", err)
	}
	return info, nil
}

func accountToAccountInfo(account *accounts.Account, encoding Encoding, dataSlice *DataSlice) (*AccountInfo, error) {
	if encoding == "" {
		encoding = EncodingBase64
	}
	data, err := EncodeAccountData(ApplyDataSlice(account.Data, dataSlice), encoding)
	if err != nil {
		return nil, err
	}
	return &AccountInfo{
		Data:       data,
		Executable: account.Executable,
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		RentEpoch:  account.RentEpoch,
		Space:      uint64(len(account.Data)),
	}, nil
}

type memcmp struct {
	offset uint64
	bytes  []byte
}

type accountFilters struct {
	dataSize *uint64
	memcmp   []memcmp
}

func compileFilters(filters []ProgramAccountFilter) (*accountFilters, *RPCError) {
	compiled := &accountFilters{}
	for _, f := range filters {
		if f.DataSize != nil {
			size := *f.DataSize
			compiled.dataSize = &size
		}
		if f.Memcmp != nil {
			var (
				b   []byte
				err error
			)
			if f.Memcmp.Encoding == EncodingBase64 {
				b, err = DecodeAccountData(f.Memcmp.Bytes, EncodingBase64)
			} else {
				b, err = base58.Decode(f.Memcmp.Bytes)
			}
			if err != nil {
				return nil, InvalidParamsErrorf("invalid memcmp bytes: %v", err)
			}
			compiled.memcmp = append(compiled.memcmp, memcmp{offset: f.Memcmp.Offset, bytes: b})
		}
	}
	return compiled, nil
}

func (f *accountFilters) match(data []byte) bool {
	if f.dataSize != nil && uint64(len(data)) != *f.dataSize {
		return false
	}
	for _, m := range f.memcmp {
		size := uint64(len(data))
		if m.offset > size || uint64(len(m.bytes)) > size-m.offset {
			return false
		}
		if !bytes.Equal(data[m.offset:m.offset+uint64(len(m.bytes))], m.bytes) {
			return false
		}
	}
	return true
}

func parseSignatureArg(args []json.RawMessage, i int) (types.Signature, *RPCError) {
	if len(args) <= i {
		return types.Signature{}, InvalidParamsError("missing signature parameter")
	}
	var str string
	if err := json.Unmarshal(args[i], &str); err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature")
	}
	sig, err := types.SignatureFromBase58(str)
	if err != nil {
		return types.Signature{}, InvalidParamsErrorf("Invalid param: %v", err)
	}
	return sig, nil
}

func receiptToResponse(r *txlog.Receipt) *TransactionResponse {
	return &TransactionResponse{
		Slot:      r.Slot,
		BlockTime: r.BlockTime,
		Transaction: TransactionKeys{
			Signatures:  []string{r.Signature.String()},
			AccountKeys: pubkeysToStrings(r.AccountKeys),
		},
		Meta: &TransactionMeta{
			Err:                  errValue(r.Err),
			Fee:                  r.Fee,
			PreBalances:          r.PreBalances,
			PostBalances:         r.PostBalances,
			LogMessages:          r.LogMessages,
			ComputeUnitsConsumed: r.ComputeUnitsConsumed,
		},
		BankHash: r.BankHash.String(),
	}
}

// errValue maps an empty error string to JSON null.
func errValue(err string) interface{} {
	if err == "" {
		return nil
	}
	return err
}

func pubkeysToStrings(pubkeys []types.Pubkey) []string {
	result := make([]string, len(pubkeys))
	for i, pk := range pubkeys {
		result[i] = pk.String()
	}
	return result
}
