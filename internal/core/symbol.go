package core

import (
	"regexp"
	"strings"
)

// validSymbol matches AAPL, BRK.B, 0700.HK, 600519.SS, BTC-USD, EUR/USD, BTCUSDT
var validSymbol = regexp.MustCompile(`^[A-Z0-9]{1,12}([.\-/][A-Z0-9]{1,8})?$`)

// NormalizeSymbol trims and uppercases symbol and validates its shape.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", Errorf(ErrInvalidSymbol, "symbol cannot be empty")
	}
	if len(s) > 21 {
		return "", Errorf(ErrInvalidSymbol, "symbol too long: %s", s)
	}
	if !validSymbol.MatchString(s) {
		return "", Errorf(ErrInvalidSymbol, "invalid symbol format: %s", s)
	}
	return s, nil
}

// NormalizeSymbols normalizes a list, dropping duplicates while keeping order.
func NormalizeSymbols(symbols []string) ([]string, error) {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, raw := range symbols {
		s, err := NormalizeSymbol(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
