// Package metrics defines the Prometheus collectors the dispatcher updates.
package metrics
