package domain

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	dErrors "attestor/pkg/domain-errors"
)

// AddressLength is the byte width of a wallet address.
const AddressLength = 20

// Address is the opaque wallet identity attestations are issued for.
// Invariant: always exactly 20 bytes; the textual form is 0x + 40 hex chars.
//
// Usage: construct via ParseAddress at trust boundaries to enforce the
// format; direct casting bypasses validation.
type Address [AddressLength]byte

// ParseAddress constructs an Address from external input. Validation is
// syntactic only; no ownership or existence proof is implied.
//
// Errors: returns CodeInvalidInput when the value is not 0x-prefixed
// 40-char hex; no other errors are expected.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != 2+2*AddressLength {
		return a, dErrors.New(dErrors.CodeInvalidInput, "address must be 0x followed by 40 hex characters")
	}
	if s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return a, dErrors.New(dErrors.CodeInvalidInput, "address must start with 0x")
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return a, dErrors.New(dErrors.CodeInvalidInput, "address contains non-hex characters")
	}
	copy(a[:], raw)
	return a, nil
}

// Bytes returns the raw 20-byte value.
func (a Address) Bytes() []byte {
	return a[:]
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String renders the address with the EIP-55 mixed-case checksum so logs and
// responses round-trip through checksum-aware wallets.
func (a Address) String() string {
	lower := hex.EncodeToString(a[:])

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := sum[i/2] >> 4
		if i%2 == 1 {
			nibble = sum[i/2] & 0x0f
		}
		if nibble >= 8 {
			out[i] = c - ('a' - 'A')
		}
	}
	return "0x" + string(out)
}
