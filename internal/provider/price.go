package provider

import (
	"strings"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/shopspring/decimal"
)

// ParsePrice parses a decimal string as sent by providers that quote prices
// as JSON strings.
func ParsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, core.Errorf(core.ErrBadResponse, "empty price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, core.Errorf(core.ErrBadResponse, "malformed price %q", s)
	}
	if d.IsNegative() {
		return 0, core.Errorf(core.ErrBadResponse, "negative price %q", s)
	}
	return d.InexactFloat64(), nil
}

// ParseVolume parses a volume string, tolerating fractional crypto volumes.
func ParseVolume(s string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.IntPart()
}
