// Package symbol handles ticker symbol validation and normalization for the
// trade boundary and the market-data proxy.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tickerRegex matches 1–5 uppercase letters with an optional share-class
// suffix. Examples: AAPL, MSFT, BRK.B
var tickerRegex = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)

// ErrInvalidSymbol reports a ticker that does not look like a US equity symbol.
var ErrInvalidSymbol = errors.New("symbol: invalid ticker")

// Normalize trims and uppercases a ticker and validates its shape.
func Normalize(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSymbol)
	}
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %s (expected 1-5 letters, e.g. AAPL or BRK.B)", ErrInvalidSymbol, ticker)
	}
	return t, nil
}
