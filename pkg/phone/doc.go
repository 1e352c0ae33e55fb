// Package phone normalizes, validates, and masks Kenyan phone numbers.
//
// WhatsApp chat identifiers arrive in whatever format the user typed:
// "0712345678", "254712345678", "+254 712 345 678", or a bare "712345678".
// All of them refer to the same subscriber, so every lookup key in the
// engine goes through Normalize first and resolves to the canonical
// international form "+254712345678".
//
// Usage:
//
//	id := phone.Normalize("0712 345 678") // "+254712345678"
//	if !phone.IsValid(id) {
//		// re-prompt the user
//	}
//	log.Info("message received", "sender", phone.Mask(id))
package phone
