// Package session holds the conversation record, the intake stage machine's
// vocabulary, input validation rules, and menu reply decoding. It is pure
// data and predicates; the scheduler in package dispatch drives transitions.
package session
