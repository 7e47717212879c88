// ABOUTME: Canonical conversation identity derived from transport phone numbers.
// ABOUTME: Strips WhatsApp suffixes and country-code artifacts so one customer maps to one ID.

package identity

import "strings"

// ID is the canonical identity of one customer conversation. It is a bare
// Brazilian phone number: digits only, no transport suffix, no country code.
type ID string

// String returns the ID as a plain string.
func (id ID) String() string { return string(id) }

// Canonical normalizes a raw transport identifier into an ID.
// Accepted inputs include "5521999887766@c.us", "+55 (21) 99988-7766",
// "21999887766@lid" and plain digit strings; all of them map to the same ID.
func Canonical(raw string) ID {
	// Drop the transport suffix (@c.us, @lid, ...) if present.
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}

	digits := onlyDigits(raw)

	// A 13-digit number starting with 55 carries the Brazil country code.
	if len(digits) == 13 && strings.HasPrefix(digits, "55") {
		digits = digits[2:]
	}

	return ID(digits)
}

// Wire returns the identifier in the form the WhatsApp transport expects.
func (id ID) Wire() string {
	digits := string(id)
	if len(digits) == 11 {
		digits = "55" + digits
	}
	return digits + "@c.us"
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
