package money

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// ErrInvalidAmount is returned when no positive decimal amount can be
// extracted from the input.
var ErrInvalidAmount = errors.New("invalid amount")

var printer = message.NewPrinter(language.English)

// Parse extracts a positive decimal amount from free-form user input.
// Currency prefixes ("KES", "ksh", "sh") and thousands separators are
// tolerated: "KES 1,000.50" parses as 1000.50.
func Parse(raw string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"kes", "ksh", "sh"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSpace(s)

	var b strings.Builder
	dotSeen := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.':
			if dotSeen {
				return 0, ErrInvalidAmount
			}
			dotSeen = true
			b.WriteRune(r)
		case r == ',' || r == ' ' || r == '_':
			// thousands separators
		default:
			// Trailing text like "save 500 bob" stops the scan; leading
			// garbage before any digit invalidates the amount.
			if b.Len() > 0 {
				goto done
			}
			return 0, ErrInvalidAmount
		}
	}
done:
	if b.Len() == 0 {
		return 0, ErrInvalidAmount
	}

	amount, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return amount, nil
}

// FormatKES renders an amount as "KES 1,000.00".
func FormatKES(amount float64) string {
	return printer.Sprintf("KES %v", number.Decimal(amount,
		number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// FormatBTC renders a Bitcoin amount with full satoshi precision.
func FormatBTC(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 8, 64) + " BTC"
}
