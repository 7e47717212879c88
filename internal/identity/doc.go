// Package identity normalizes transport phone identifiers into one canonical
// conversation ID per customer.
package identity
