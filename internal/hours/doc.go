// Package hours answers one question: is the store open at a given instant.
// The boundary minute at both the open and close hour counts as open.
package hours
