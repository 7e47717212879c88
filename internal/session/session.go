// ABOUTME: Conversation state record and the intake stage machine's vocabulary.
// ABOUTME: Stages, attempt counters, customer profile, and input validation rules.

package session

import (
	"strings"
	"time"

	"github.com/donafarma/dispatch/internal/identity"
)

// Stage is the position of a conversation in the intake/service lifecycle.
type Stage int

const (
	StageNew Stage = iota
	StageCollectingName
	StageCollectingLocation
	StageChoosingAgent
	StageInService
	StageIdleWarned
	StageReturningMenu
	StageClosed
)

// String returns the stable storage name of the stage.
func (s Stage) String() string {
	switch s {
	case StageNew:
		return "new"
	case StageCollectingName:
		return "collecting_name"
	case StageCollectingLocation:
		return "collecting_location"
	case StageChoosingAgent:
		return "choosing_agent"
	case StageInService:
		return "in_service"
	case StageIdleWarned:
		return "idle_warned"
	case StageReturningMenu:
		return "returning_menu"
	case StageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ParseStage maps a storage name back to a Stage. The boolean is false for
// names that no code path produces, which callers treat as corrupted state.
func ParseStage(name string) (Stage, bool) {
	for s := StageNew; s <= StageClosed; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return StageNew, false
}

// InService reports whether the conversation is bound to an agent right now.
// IdleWarned is a sub-state of in-service: the binding is still live.
func (s Stage) InService() bool {
	return s == StageInService || s == StageIdleWarned
}

// Profile is the registered customer record collected during intake.
type Profile struct {
	Name           string
	LocationCode   string
	AddressSummary string
	DistanceKm     float64
	WithinRadius   bool
	RegisteredAt   time.Time
}

// Conversation is the per-customer dispatch state. AssignedAgent is a weak
// back-reference: the agent pool's active set is the authoritative side, and
// the scheduler mutates both under one lock.
type Conversation struct {
	ID             identity.ID
	Stage          Stage
	Attempts       int
	AssignedAgent  string
	LastActivityAt time.Time
	PendingSince   *time.Time
	StartedAt      time.Time
	PendingName    string
	Profile        *Profile
}

// MaxInputAttempts is the validation strike limit before escalating to an agent.
const MaxInputAttempts = 3

// MaxLookupAttempts is the stricter limit for eligibility-lookup failures,
// which are infrastructure errors rather than user error.
const MaxLookupAttempts = 2

// ValidName reports whether a customer-supplied name is acceptable:
// 2 to 50 characters after trimming.
func ValidName(name string) bool {
	n := len([]rune(strings.TrimSpace(name)))
	return n >= 2 && n <= 50
}

// NormalizeLocationCode strips non-digits from a location code and reports
// whether exactly 8 digits remain (the CEP format).
func NormalizeLocationCode(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	code := b.String()
	return code, len(code) == 8
}
