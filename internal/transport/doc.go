// Package transport is the boundary to the external messaging bridge: an
// inbound webhook for customer messages and an outbound HTTP sender. The
// WhatsApp client itself lives outside this service.
package transport
