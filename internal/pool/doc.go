// Package pool tracks agent presence and per-agent active conversation sets,
// and owns the assignment algorithm: least loaded first, round-robin on ties.
package pool
