// Package types defines core cryptographic and ledger types for x1-counter.
//
// These types follow Solana conventions: 32-byte Ed25519 public keys,
// 64-byte signatures and 32-byte hashes, all rendered as base58 text.
package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Size constants for core types.
const (
	PubkeySize    = 32
	SignatureSize = 64
	HashSize      = 32
)

var (
	// ErrInvalidPubkey is returned when a pubkey has invalid length.
	ErrInvalidPubkey = errors.New("invalid pubkey: must be 32 bytes")

	// ErrInvalidSignature is returned when a signature has invalid length.
	ErrInvalidSignature = errors.New("invalid signature: must be 64 bytes")

	// ErrInvalidHash is returned when a hash has invalid length.
	ErrInvalidHash = errors.New("invalid hash: must be 32 bytes")

	// ErrInvalidKeypair is returned when a private key has invalid length.
	ErrInvalidKeypair = errors.New("invalid keypair: must be 64 bytes")
)

// Pubkey represents a 32-byte Ed25519 public key or program derived address.
type Pubkey [PubkeySize]byte

// PubkeyFromBase58 parses a base58-encoded public key.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var p Pubkey
	data, err := base58.Decode(s)
	if err != nil {
		return p, errors.Wrap(err, "base58 decode")
	}
	if len(data) != PubkeySize {
		return p, ErrInvalidPubkey
	}
	copy(p[:], data)
	return p, nil
}

// PubkeyFromBytes creates a Pubkey from a byte slice.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeySize {
		return p, ErrInvalidPubkey
	}
	copy(p[:], b)
	return p, nil
}

// MustPubkeyFromBase58 parses a base58 pubkey or panics.
// Only use for compile-time constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(errors.Wrapf(err, "invalid pubkey constant %q", s))
	}
	return p
}

// String returns the base58-encoded representation.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero returns true if the pubkey is all zeros.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Bytes returns the pubkey as a byte slice.
func (p Pubkey) Bytes() []byte {
	return p[:]
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := PubkeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Signature represents a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

// SignatureFromBase58 parses a base58-encoded signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	data, err := base58.Decode(s)
	if err != nil {
		return sig, errors.Wrap(err, "base58 decode")
	}
	if len(data) != SignatureSize {
		return sig, ErrInvalidSignature
	}
	copy(sig[:], data)
	return sig, nil
}

// String returns the base58-encoded representation.
func (s Signature) String() string {
	return base58.Encode(s[:])
}

// IsZero returns true if the signature is all zeros.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// Verify verifies this signature against a message and public key.
func (s Signature) Verify(pubkey Pubkey, message []byte) bool {
	return ed25519.Verify(pubkey[:], message, s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := SignatureFromBase58(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Hash represents a 32-byte hash (blockhashes, account hashes).
type Hash [HashSize]byte

// HashFromBase58 parses a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	data, err := base58.Decode(s)
	if err != nil {
		return h, errors.Wrap(err, "base58 decode")
	}
	if len(data) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], data)
	return h, nil
}

// ComputeHash computes the SHA256 hash of data.
func ComputeHash(data []byte) Hash {
	return sha256.Sum256(data)
}

// String returns the base58-encoded representation.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromBase58(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Keypair is an Ed25519 signing key together with its public key.
type Keypair struct {
	Pubkey  Pubkey
	private ed25519.PrivateKey
}

// NewKeypair generates a fresh keypair from crypto/rand.
func NewKeypair() (*Keypair, error) {
	return NewKeypairFromReader(rand.Reader)
}

// NewKeypairFromReader generates a keypair using entropy from r.
func NewKeypairFromReader(r io.Reader) (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, errors.Wrap(err, "generate ed25519 key")
	}
	kp := &Keypair{private: priv}
	copy(kp.Pubkey[:], pub)
	return kp, nil
}

// KeypairFromBytes loads a keypair from its 64-byte private key encoding.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypair
	}
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(priv, b)
	kp := &Keypair{private: priv}
	copy(kp.Pubkey[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// Sign signs message with the keypair's private key.
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}

// Bytes returns the 64-byte private key encoding.
func (k *Keypair) Bytes() []byte {
	out := make([]byte, len(k.private))
	copy(out, k.private)
	return out
}

// MarshalJSON encodes the keypair as a JSON array of bytes, the layout used
// by Solana CLI keypair files.
func (k *Keypair) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(k.private))
	for i, b := range k.private {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON decodes a JSON byte array keypair.
func (k *Keypair) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return errors.Wrap(err, "decode keypair json")
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return ErrInvalidKeypair
		}
		raw[i] = byte(v)
	}
	parsed, err := KeypairFromBytes(raw)
	if err != nil {
		return err
	}
	*k = *parsed
	return nil
}
