// Package store provides SQLite persistence for the dispatch service:
// conversation state, customer profiles, the pending queue, per-conversation
// transcripts, agent notes, and daily served counters.
package store
