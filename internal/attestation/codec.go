// Package attestation builds and signs the canonical attestation payload the
// registry contract validates on-chain. Field order, widths, and hashing are a
// cross-system contract: the contract recomputes the exact same bytes during
// ecrecover validation, so any change here silently breaks issuance.
package attestation

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"attestor/pkg/domain"
	dErrors "attestor/pkg/domain-errors"
)

// DigestSize is the width of the attestation digest in bytes.
const DigestSize = 32

// SignatureSize is the width of a recoverable signature: r(32) || s(32) || v(1).
const SignatureSize = 65

// signedMessagePrefix is the platform message-signing convention applied
// before ECDSA signing; the contract prepends the same prefix before
// recovering the signer.
const signedMessagePrefix = "\x19Ethereum Signed Message:\n32"

// Digest is the fixed-size hash of the canonical attestation fields.
type Digest [DigestSize]byte

// Hex renders the digest as 0x-prefixed hex.
func (d Digest) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

// BuildDigest deterministically encodes (issuer, subject, expiry) and hashes
// the result with keccak256. The encoding is the packed form the contract
// recomputes: issuer (20 bytes) || subject (20 bytes) || expiry (uint256,
// big-endian).
//
// Errors: returns CodeInvalidInput for a zero issuer or subject and for a
// non-positive expiry; pure otherwise.
func BuildDigest(issuer, subject domain.Address, expiry int64) (Digest, error) {
	var d Digest
	if issuer.IsZero() {
		return d, dErrors.New(dErrors.CodeInvalidInput, "issuer address must not be zero")
	}
	if subject.IsZero() {
		return d, dErrors.New(dErrors.CodeInvalidInput, "subject address must not be zero")
	}
	if expiry <= 0 {
		return d, dErrors.New(dErrors.CodeInvalidInput, "expiry must be a positive unix timestamp")
	}

	// 20 + 20 + 32 packed bytes; expiry occupies the low 8 bytes of a
	// zero-padded uint256 word.
	var buf [2*domain.AddressLength + 32]byte
	copy(buf[0:], issuer.Bytes())
	copy(buf[domain.AddressLength:], subject.Bytes())
	binary.BigEndian.PutUint64(buf[len(buf)-8:], uint64(expiry))

	h := sha3.NewLegacyKeccak256()
	h.Write(buf[:])
	copy(d[:], h.Sum(nil))
	return d, nil
}

// prefixedHash applies the signed-message convention to a digest, producing
// the hash that is actually signed and recovered against.
func prefixedHash(d Digest) [DigestSize]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signedMessagePrefix))
	h.Write(d[:])
	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Signer holds the issuer's secp256k1 key and produces recoverable
// signatures in the contract's r||s||v encoding. Safe for concurrent use;
// the key is read-only after construction.
type Signer struct {
	key  *secp256k1.PrivateKey
	addr domain.Address
}

// NewSigner parses a hex-encoded 32-byte private key (optionally 0x-prefixed).
func NewSigner(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode issuer key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("issuer key must be 32 bytes, got %d", len(raw))
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	return &Signer{
		key:  key,
		addr: addressFromPublicKey(key.PubKey()),
	}, nil
}

// Address returns the issuer identity derived from the signing key.
func (s *Signer) Address() domain.Address {
	return s.addr
}

// Sign produces a 65-byte r||s||v signature over the prefixed digest hash,
// with v in {27, 28} as the contract's recovery logic expects.
func (s *Signer) Sign(d Digest) ([]byte, error) {
	hash := prefixedHash(d)
	compact := ecdsa.SignCompact(s.key, hash[:], false)
	if len(compact) != SignatureSize {
		return nil, fmt.Errorf("unexpected compact signature length %d", len(compact))
	}
	// SignCompact puts the recovery header first; the contract wants it last.
	sig := make([]byte, SignatureSize)
	copy(sig, compact[1:])
	sig[SignatureSize-1] = compact[0]
	return sig, nil
}

// RecoverSigner recovers the address that signed the digest. This is the same
// computation the contract performs during validation, so it doubles as the
// off-chain conformance check for signatures.
func RecoverSigner(d Digest, sig []byte) (domain.Address, error) {
	if len(sig) != SignatureSize {
		return domain.Address{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(sig))
	}
	compact := make([]byte, SignatureSize)
	compact[0] = sig[SignatureSize-1]
	copy(compact[1:], sig[:SignatureSize-1])

	hash := prefixedHash(d)
	pub, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return domain.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return addressFromPublicKey(pub), nil
}

// addressFromPublicKey derives the wallet address: the low 20 bytes of
// keccak256 over the uncompressed public key without its 0x04 tag.
func addressFromPublicKey(pub *secp256k1.PublicKey) domain.Address {
	raw := pub.SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	h.Write(raw[1:])
	sum := h.Sum(nil)

	var addr domain.Address
	copy(addr[:], sum[len(sum)-domain.AddressLength:])
	return addr
}
