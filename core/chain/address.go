// Package chain holds helpers for the EVM chain the platform targets (XDC network).
//
// XDC wallets display addresses with an "xdc" prefix instead of "0x"; both forms
// name the same 20-byte account. Addresses are stored in lowercase "0x" form.
package chain

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const (
	PrefixHex = "0x"
	PrefixXDC = "xdc"

	addressHexLen = 40
)

var ErrInvalidAddress = errors.New("invalid wallet address")

// splitPrefix returns the 40 hex chars of addr, whichever prefix it uses.
func splitPrefix(addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	lower := strings.ToLower(addr)
	var body string
	switch {
	case strings.HasPrefix(lower, PrefixXDC):
		body = addr[len(PrefixXDC):]
	case strings.HasPrefix(lower, PrefixHex):
		body = addr[len(PrefixHex):]
	default:
		return "", false
	}
	if len(body) != addressHexLen {
		return "", false
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", false
	}
	return body, true
}

// IsValid reports whether addr is a well-formed "0x…" or "xdc…" address.
// Mixed-case addresses must carry a valid EIP-55 checksum.
func IsValid(addr string) bool {
	body, ok := splitPrefix(addr)
	if !ok {
		return false
	}
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return checksumBody(strings.ToLower(body)) == body
}

// Normalize returns the canonical lowercase "0x" form of addr.
func Normalize(addr string) (string, error) {
	if !IsValid(addr) {
		return "", ErrInvalidAddress
	}
	body, _ := splitPrefix(addr)
	return PrefixHex + strings.ToLower(body), nil
}

// To0x converts addr to the checksummed "0x" form.
func To0x(addr string) (string, error) {
	body, err := normalizedBody(addr)
	if err != nil {
		return "", err
	}
	return PrefixHex + checksumBody(body), nil
}

// ToXDC converts addr to the checksummed "xdc" form used by XDC wallets.
func ToXDC(addr string) (string, error) {
	body, err := normalizedBody(addr)
	if err != nil {
		return "", err
	}
	return PrefixXDC + checksumBody(body), nil
}

// WithPrefix converts addr to the display form for the given prefix ("xdc" or "0x").
func WithPrefix(addr, prefix string) (string, error) {
	if strings.EqualFold(prefix, PrefixXDC) {
		return ToXDC(addr)
	}
	return To0x(addr)
}

func normalizedBody(addr string) (string, error) {
	norm, err := Normalize(addr)
	if err != nil {
		return "", err
	}
	return norm[len(PrefixHex):], nil
}

// checksumBody applies EIP-55 mixed-case encoding to a lowercase 40-char hex body.
func checksumBody(lowerBody string) string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(lowerBody))
	hash := hex.EncodeToString(h.Sum(nil))

	out := []byte(lowerBody)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}
