package service

import (
	"fmt"
	"strings"
)

// ParseSymbol splits "EURUSD" or "EUR/USD" (any case, surrounding spaces
// ignored) into its two currency codes.
func ParseSymbol(symbol string) (from, to string, err error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))

	switch {
	case len(s) == 6 && !strings.Contains(s, "/"):
		from, to = s[:3], s[3:]
	case strings.Count(s, "/") == 1:
		parts := strings.SplitN(s, "/", 2)
		from, to = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}

	if !isCode(from) || !isCode(to) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return from, to, nil
}

// Key is the cache key of a symbol: both codes, no separator.
func Key(symbol string) (string, error) {
	from, to, err := ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	return from + to, nil
}

func isCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
