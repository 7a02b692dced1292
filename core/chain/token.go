package chain

import (
	"math/big"
	"strings"
)

// TokenSymbol is the ERC-20 utility token used to pay for sessions.
const TokenSymbol = "ROXN"

const TokenDecimals = 18

// ParseTokenAmount parses a decimal ROXN amount ("12.5") into base units.
func ParseTokenAmount(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, false
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > TokenDecimals || (whole == "" && frac == "") {
		return nil, false
	}
	if whole == "" {
		whole = "0"
	}
	frac += strings.Repeat("0", TokenDecimals-len(frac))
	amount, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, false
	}
	return amount, true
}

// FormatTokenAmount renders base units as a decimal ROXN amount without trailing zeros.
func FormatTokenAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	sign := ""
	if amount.Sign() < 0 {
		sign = "-"
	}
	s := new(big.Int).Abs(amount).String()
	if len(s) <= TokenDecimals {
		s = strings.Repeat("0", TokenDecimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-TokenDecimals], strings.TrimRight(s[len(s)-TokenDecimals:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}
