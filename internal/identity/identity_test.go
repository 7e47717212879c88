// ABOUTME: Tests for conversation identity canonicalization.
// ABOUTME: Validates suffix stripping, country-code removal, and wire round-trips.

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical_StripsTransportSuffix(t *testing.T) {
	assert.Equal(t, ID("21999887766"), Canonical("5521999887766@c.us"))
	assert.Equal(t, ID("21999887766"), Canonical("21999887766@lid"))
}

func TestCanonical_StripsCountryCode(t *testing.T) {
	// 13 digits starting with 55 is the international form
	assert.Equal(t, ID("21999887766"), Canonical("5521999887766"))

	// 11 digits is already the local form, nothing to strip
	assert.Equal(t, ID("21999887766"), Canonical("21999887766"))
}

func TestCanonical_IgnoresFormatting(t *testing.T) {
	assert.Equal(t, ID("21999887766"), Canonical("+55 (21) 99988-7766"))
}

func TestCanonical_SameCustomerManyNotations(t *testing.T) {
	notations := []string{
		"5521999887766@c.us",
		"5521999887766",
		"21999887766",
		"21999887766@lid",
	}
	for _, raw := range notations {
		assert.Equal(t, ID("21999887766"), Canonical(raw), "input %q", raw)
	}
}

func TestWire_AddsCountryCodeAndSuffix(t *testing.T) {
	assert.Equal(t, "5521999887766@c.us", ID("21999887766").Wire())
}
