// Package console is the agent-facing surface: a JSON HTTP API for commands
// (presence, replies, close, transfer, notes) and a WebSocket stream that
// pushes dispatch events to each connected console. Connecting the socket
// logs the agent in; losing it logs the agent out, so presence always tracks
// a live console.
package console
