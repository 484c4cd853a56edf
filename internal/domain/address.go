package domain

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidAddress is returned for malformed or zero addresses
var ErrInvalidAddress = errors.New("invalid address")

// ZeroAddress is never a valid participant
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// Address identifies a wallet. It is always stored lower-case with a 0x prefix.
type Address string

// ParseAddress validates a 0x-prefixed 20-byte hex address.
// Mixed-case input must carry a correct checksum.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return "", ErrInvalidAddress
	}
	body := s[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", ErrInvalidAddress
	}

	addr := Address("0x" + strings.ToLower(body))
	if addr == ZeroAddress {
		return "", ErrInvalidAddress
	}

	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if addr.Checksum() != "0x"+body {
			return "", ErrInvalidAddress
		}
	}

	return addr, nil
}

// MustParseAddress is ParseAddress for constants and tests
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Checksum renders the address with the keccak-256 mixed-case checksum
func (a Address) Checksum() string {
	body := strings.TrimPrefix(string(a), "0x")

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(body))
	digest := hex.EncodeToString(h.Sum(nil))

	out := []byte(body)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}

// IsZero reports whether the address is empty or the zero address
func (a Address) IsZero() bool {
	return a == "" || a == ZeroAddress
}

func (a Address) String() string {
	return string(a)
}
