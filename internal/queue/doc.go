// Package queue is the FIFO backlog of conversations waiting for capacity or
// for opening hours.
package queue
