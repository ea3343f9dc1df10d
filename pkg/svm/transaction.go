package svm

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/svm/shortvec"
)

// MaxTransactionSize is the largest serialized transaction accepted.
const MaxTransactionSize = 1232

// MaxAccountsPerTransaction bounds the account list of one message.
const MaxAccountsPerTransaction = 64

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// NewWritableAccountMeta returns a writable meta.
func NewWritableAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner, IsWritable: true}
}

// NewReadonlyAccountMeta returns a read-only meta.
func NewReadonlyAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner}
}

// Instruction is an uncompiled program invocation.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// MessageHeader counts signer and read-only accounts in a message.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into the message.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// Message is a legacy transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []types.Pubkey
	RecentBlockhash types.Hash
	Instructions    []CompiledInstruction
}

// Transaction is a signed message.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

type compileMeta struct {
	AccountMeta
	isPayer   bool
	isProgram bool
}

// sortRank orders: payer, writable signers, read-only signers,
// writable non-signers, read-only non-signers, programs.
func (m compileMeta) sortRank() int {
	switch {
	case m.isPayer:
		return 0
	case m.isProgram && !m.IsSigner && !m.IsWritable:
		return 5
	case m.IsSigner && m.IsWritable:
		return 1
	case m.IsSigner:
		return 2
	case m.IsWritable:
		return 3
	default:
		return 4
	}
}

// NewMessage compiles instructions into a message paid for by payer.
func NewMessage(payer types.Pubkey, blockhash types.Hash, instructions ...Instruction) (Message, error) {
	metas := []compileMeta{{
		AccountMeta: AccountMeta{Pubkey: payer, IsSigner: true, IsWritable: true},
		isPayer:     true,
	}}
	for _, ix := range instructions {
		for _, a := range ix.Accounts {
			metas = append(metas, compileMeta{AccountMeta: a})
		}
		metas = append(metas, compileMeta{
			AccountMeta: AccountMeta{Pubkey: ix.ProgramID},
			isProgram:   true,
		})
	}

	metas = mergeMetas(metas)
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].sortRank() < metas[j].sortRank()
	})
	if len(metas) > MaxAccountsPerTransaction {
		return Message{}, errors.Wrapf(ErrTooManyAccountLocks, "%d accounts", len(metas))
	}

	var msg Message
	index := make(map[types.Pubkey]uint8, len(metas))
	for i, m := range metas {
		msg.AccountKeys = append(msg.AccountKeys, m.Pubkey)
		index[m.Pubkey] = uint8(i)
		if m.IsSigner {
			msg.Header.NumRequiredSignatures++
			if !m.IsWritable {
				msg.Header.NumReadonlySignedAccounts++
			}
		} else if !m.IsWritable {
			msg.Header.NumReadonlyUnsignedAccounts++
		}
	}

	for _, ix := range instructions {
		c := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Data:           append([]byte(nil), ix.Data...),
		}
		for _, a := range ix.Accounts {
			c.AccountIndexes = append(c.AccountIndexes, index[a.Pubkey])
		}
		msg.Instructions = append(msg.Instructions, c)
	}
	msg.RecentBlockhash = blockhash
	return msg, nil
}

// mergeMetas drops duplicate keys, keeping the strongest privileges seen.
// A program key that is also used as a plain account is no longer treated
// as a program for ordering.
func mergeMetas(metas []compileMeta) []compileMeta {
	out := make([]compileMeta, 0, len(metas))
	seen := make(map[types.Pubkey]int, len(metas))
	for _, m := range metas {
		if j, ok := seen[m.Pubkey]; ok {
			out[j].IsSigner = out[j].IsSigner || m.IsSigner
			out[j].IsWritable = out[j].IsWritable || m.IsWritable
			out[j].isPayer = out[j].isPayer || m.isPayer
			out[j].isProgram = out[j].isProgram && m.isProgram
			continue
		}
		seen[m.Pubkey] = len(out)
		out = append(out, m)
	}
	return out
}

// NewTransaction compiles an unsigned transaction.
func NewTransaction(payer types.Pubkey, blockhash types.Hash, instructions ...Instruction) (*Transaction, error) {
	msg, err := NewMessage(payer, blockhash, instructions...)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]types.Signature, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}, nil
}

// IsSigner reports whether the account at index i must sign.
func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the account at index i is writable.
func (m *Message) IsWritable(i int) bool {
	numSigners := int(m.Header.NumRequiredSignatures)
	if i < numSigners {
		return i < numSigners-int(m.Header.NumReadonlySignedAccounts)
	}
	numWritableUnsigned := len(m.AccountKeys) - numSigners - int(m.Header.NumReadonlyUnsignedAccounts)
	return i-numSigners < numWritableUnsigned
}

// Sanitize checks the structural consistency of the message.
func (m *Message) Sanitize() error {
	h := m.Header
	n := len(m.AccountKeys)
	switch {
	case h.NumRequiredSignatures == 0:
		return errors.Wrap(ErrSanitizeFailure, "no fee payer")
	case int(h.NumRequiredSignatures) > n:
		return errors.Wrap(ErrSanitizeFailure, "more signers than accounts")
	case h.NumReadonlySignedAccounts >= h.NumRequiredSignatures:
		return errors.Wrap(ErrSanitizeFailure, "fee payer must be writable")
	case int(h.NumReadonlyUnsignedAccounts) > n-int(h.NumRequiredSignatures):
		return errors.Wrap(ErrSanitizeFailure, "read-only count exceeds unsigned accounts")
	case n > MaxAccountsPerTransaction:
		return errors.Wrap(ErrTooManyAccountLocks, "account list too long")
	}

	seen := make(map[types.Pubkey]struct{}, n)
	for _, k := range m.AccountKeys {
		if _, dup := seen[k]; dup {
			return errors.Wrapf(ErrSanitizeFailure, "duplicate account %s", k)
		}
		seen[k] = struct{}{}
	}

	for i, ix := range m.Instructions {
		if int(ix.ProgramIDIndex) >= n || ix.ProgramIDIndex == 0 {
			return errors.Wrapf(ErrSanitizeFailure, "instruction %d: program index %d", i, ix.ProgramIDIndex)
		}
		for _, a := range ix.AccountIndexes {
			if int(a) >= n {
				return errors.Wrapf(ErrSanitizeFailure, "instruction %d: account index %d", i, a)
			}
		}
	}
	return nil
}

// Marshal serializes the message in the legacy wire layout. This is the
// byte string that signers sign.
func (m *Message) Marshal() ([]byte, error) {
	buf := []byte{
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	}

	var err error
	if buf, err = shortvec.AppendLen(buf, len(m.AccountKeys)); err != nil {
		return nil, err
	}
	for _, k := range m.AccountKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)

	if buf, err = shortvec.AppendLen(buf, len(m.Instructions)); err != nil {
		return nil, err
	}
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		if buf, err = shortvec.AppendLen(buf, len(ix.AccountIndexes)); err != nil {
			return nil, err
		}
		buf = append(buf, ix.AccountIndexes...)
		if buf, err = shortvec.AppendLen(buf, len(ix.Data)); err != nil {
			return nil, err
		}
		buf = append(buf, ix.Data...)
	}
	return buf, nil
}

// Sign fills in the signatures of the given signers. Every signer must be
// a required signer of the message.
func (tx *Transaction) Sign(signers ...*types.Keypair) error {
	msg, err := tx.Message.Marshal()
	if err != nil {
		return err
	}
	for _, s := range signers {
		idx := tx.Message.indexOf(s.Pubkey)
		if idx < 0 {
			return errors.Errorf("signing account %s is not in the account list", s.Pubkey)
		}
		if idx >= len(tx.Signatures) {
			return errors.Errorf("signing account %s is not in the list of signers", s.Pubkey)
		}
		tx.Signatures[idx] = s.Sign(msg)
	}
	return nil
}

// VerifySignatures checks every required signature against the message.
func (tx *Transaction) VerifySignatures() error {
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		return errors.Wrapf(ErrSanitizeFailure, "%d signatures for %d signers",
			len(tx.Signatures), tx.Message.Header.NumRequiredSignatures)
	}
	if len(tx.Message.AccountKeys) < len(tx.Signatures) {
		return ErrSanitizeFailure
	}
	msg, err := tx.Message.Marshal()
	if err != nil {
		return err
	}
	for i, sig := range tx.Signatures {
		if !sig.Verify(tx.Message.AccountKeys[i], msg) {
			return errors.Wrapf(ErrSignatureFailure, "signer %s", tx.Message.AccountKeys[i])
		}
	}
	return nil
}

// Signature returns the first signature, which identifies the transaction.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// FeePayer returns the first account key.
func (tx *Transaction) FeePayer() types.Pubkey {
	if len(tx.Message.AccountKeys) == 0 {
		return types.Pubkey{}
	}
	return tx.Message.AccountKeys[0]
}

// Marshal serializes the signed transaction.
func (tx *Transaction) Marshal() ([]byte, error) {
	buf, err := shortvec.AppendLen(nil, len(tx.Signatures))
	if err != nil {
		return nil, err
	}
	for _, s := range tx.Signatures {
		buf = append(buf, s[:]...)
	}
	msg, err := tx.Message.Marshal()
	if err != nil {
		return nil, err
	}
	buf = append(buf, msg...)
	if len(buf) > MaxTransactionSize {
		return nil, errors.Errorf("transaction size %d exceeds %d", len(buf), MaxTransactionSize)
	}
	return buf, nil
}

// UnmarshalTransaction parses a transaction in the legacy wire layout.
// Trailing bytes are rejected.
func UnmarshalTransaction(b []byte) (*Transaction, error) {
	if len(b) > MaxTransactionSize {
		return nil, errors.Errorf("transaction size %d exceeds %d", len(b), MaxTransactionSize)
	}
	r := bytes.NewReader(b)
	tx := &Transaction{}

	n, err := shortvec.DecodeLen(r)
	if err != nil {
		return nil, errors.Wrap(err, "signature count")
	}
	tx.Signatures = make([]types.Signature, n)
	for i := range tx.Signatures {
		if err := readFull(r, tx.Signatures[i][:]); err != nil {
			return nil, errors.Wrapf(err, "signature %d", i)
		}
	}

	var hdr [3]byte
	if err := readFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "header")
	}
	tx.Message.Header = MessageHeader{hdr[0], hdr[1], hdr[2]}

	if n, err = shortvec.DecodeLen(r); err != nil {
		return nil, errors.Wrap(err, "account count")
	}
	tx.Message.AccountKeys = make([]types.Pubkey, n)
	for i := range tx.Message.AccountKeys {
		if err := readFull(r, tx.Message.AccountKeys[i][:]); err != nil {
			return nil, errors.Wrapf(err, "account %d", i)
		}
	}
	if err := readFull(r, tx.Message.RecentBlockhash[:]); err != nil {
		return nil, errors.Wrap(err, "blockhash")
	}

	if n, err = shortvec.DecodeLen(r); err != nil {
		return nil, errors.Wrap(err, "instruction count")
	}
	tx.Message.Instructions = make([]CompiledInstruction, n)
	for i := range tx.Message.Instructions {
		ix := &tx.Message.Instructions[i]
		if ix.ProgramIDIndex, err = r.ReadByte(); err != nil {
			return nil, errors.Wrapf(err, "instruction %d program index", i)
		}
		if n, err = shortvec.DecodeLen(r); err != nil {
			return nil, errors.Wrapf(err, "instruction %d account count", i)
		}
		ix.AccountIndexes = make([]uint8, n)
		if err := readFull(r, ix.AccountIndexes); err != nil {
			return nil, errors.Wrapf(err, "instruction %d accounts", i)
		}
		if n, err = shortvec.DecodeLen(r); err != nil {
			return nil, errors.Wrapf(err, "instruction %d data length", i)
		}
		ix.Data = make([]byte, n)
		if err := readFull(r, ix.Data); err != nil {
			return nil, errors.Wrapf(err, "instruction %d data", i)
		}
	}

	if r.Len() != 0 {
		return nil, errors.Errorf("%d trailing bytes", r.Len())
	}
	return tx, nil
}

func readFull(r *bytes.Reader, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if r.Len() < len(dst) {
		return errors.New("unexpected end of transaction")
	}
	_, err := r.Read(dst)
	return err
}

func (m *Message) indexOf(k types.Pubkey) int {
	for i, key := range m.AccountKeys {
		if key == k {
			return i
		}
	}
	return -1
}

// String renders the transaction for debugging.
func (tx *Transaction) String() string {
	var sb strings.Builder
	sb.WriteString("Signatures:\n")
	for i, s := range tx.Signatures {
		sb.WriteString(fmt.Sprintf("  %d: %s\n", i, s))
	}
	h := tx.Message.Header
	sb.WriteString(fmt.Sprintf("Header: signers=%d readonly_signed=%d readonly_unsigned=%d\n",
		h.NumRequiredSignatures, h.NumReadonlySignedAccounts, h.NumReadonlyUnsignedAccounts))
	sb.WriteString("Accounts:\n")
	for i, k := range tx.Message.AccountKeys {
		sb.WriteString(fmt.Sprintf("  %d: %s signer=%t writable=%t\n", i, k, tx.Message.IsSigner(i), tx.Message.IsWritable(i)))
	}
	sb.WriteString(fmt.Sprintf("RecentBlockhash: %s\n", tx.Message.RecentBlockhash))
	sb.WriteString("Instructions:\n")
	for i, ix := range tx.Message.Instructions {
		sb.WriteString(fmt.Sprintf("  %d: program=%d accounts=%v data=%x\n", i, ix.ProgramIDIndex, ix.AccountIndexes, ix.Data))
	}
	return sb.String()
}
