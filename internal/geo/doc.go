// Package geo resolves a location code to an address and a distance from the
// store, deciding delivery eligibility.
package geo
