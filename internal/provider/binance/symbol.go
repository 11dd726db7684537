package binance

import "strings"

// Quote currencies in detection order
var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB"}

// toPair converts BTC-USD, BTC/USDT or BTCUSDT into Binance's BTCUSDT form.
// ok is false when the symbol is not a recognizable crypto pair.
func toPair(symbol string) (pair string, ok bool) {
	s := strings.ToUpper(symbol)

	if i := strings.IndexAny(s, "/-"); i > 0 {
		base, quote := s[:i], s[i+1:]
		if quote == "USD" {
			quote = "USDT"
		}
		if !isQuoteCurrency(quote) || base == "" {
			return "", false
		}
		return base + quote, true
	}

	// Ensure there's a base currency left
	for _, q := range quoteCurrencies {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s, true
		}
	}
	return "", false
}

func isQuoteCurrency(q string) bool {
	for _, c := range quoteCurrencies {
		if c == q {
			return true
		}
	}
	return false
}
