// Package app assembles the dispatch service from configuration and runs it.
package app
