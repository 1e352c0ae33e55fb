package phone

import "strings"

// Normalize converts a phone number in any common local format to the
// canonical international form. Rules, applied to the digits only:
//
//	254XXXXXXXXX       -> +254XXXXXXXXX
//	0XXXXXXXXX (10)    -> +254XXXXXXXXX
//	XXXXXXXXX  (9)     -> +254XXXXXXXXX
//	anything else      -> +<digits>
//
// The result is not guaranteed to be valid; call IsValid to check.
func Normalize(raw string) string {
	digits := digitsOnly(raw)
	if digits == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(digits, "254"):
		return "+" + digits
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		return "+254" + digits[1:]
	case len(digits) == 9:
		return "+254" + digits
	default:
		return "+" + digits
	}
}

// IsValid reports whether phone is a normalized international number:
// a leading "+" followed by 10 to 15 digits.
func IsValid(phone string) bool {
	if !strings.HasPrefix(phone, "+") {
		return false
	}

	digits := phone[1:]
	if len(digits) < 10 || len(digits) > 15 {
		return false
	}

	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Mask obscures the middle of a phone number for log output,
// e.g. "+254712345678" becomes "+254***678". Short values are
// fully masked so partial identifiers never leak.
func Mask(phone string) string {
	if len(phone) <= 7 {
		return "***"
	}
	return phone[:4] + "***" + phone[len(phone)-3:]
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
