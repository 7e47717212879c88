// ABOUTME: Closed enum of menu actions decoded once at the inbound boundary.
// ABOUTME: Replaces string-opcode dispatch with an explicit action type.

package session

import (
	"strconv"
	"strings"
)

// MenuKind identifies what the customer asked for in a menu reply.
type MenuKind int

const (
	// MenuPickAgent selects a specific agent by menu position.
	MenuPickAgent MenuKind = iota
	// MenuShowHours asks for the operating-hours table.
	MenuShowHours
	// MenuFreeText is anything else and routes to automatic selection.
	MenuFreeText
)

// MenuAction is one decoded menu reply.
type MenuAction struct {
	Kind       MenuKind
	AgentIndex int // zero-based position in the configured agent list
	Text       string
}

// DecodeMenu interprets a customer reply against a menu with agentCount agent
// entries. When withHours is true the option right after the agents shows the
// operating hours (the returning-customer menu); otherwise any non-agent reply
// is free text (the first-contact agent choice).
func DecodeMenu(text string, agentCount int, withHours bool) MenuAction {
	trimmed := strings.TrimSpace(text)

	if n, err := strconv.Atoi(trimmed); err == nil {
		if n >= 1 && n <= agentCount {
			return MenuAction{Kind: MenuPickAgent, AgentIndex: n - 1, Text: trimmed}
		}
		if withHours && n == agentCount+1 {
			return MenuAction{Kind: MenuShowHours, Text: trimmed}
		}
	}

	return MenuAction{Kind: MenuFreeText, Text: trimmed}
}
