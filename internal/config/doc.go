// Package config handles configuration loading for dispatchd.
//
// Configuration is loaded from a YAML file with ${VAR} environment variable
// expansion and time.ParseDuration syntax for timing fields. Defaults match
// the store's published hours and the dispatch timing the service shipped
// with (5m idle warning, 1m grace, 30s menu deadline, 24h queue staleness).
package config
