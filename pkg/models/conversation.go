package models

import "time"

// Stage is the funnel position of a Conversation. Downgrades are only
// permitted via the support path (enforced by the conversation store).
type Stage string

const (
	StageGreeting    Stage = "greeting"
	StageDiscovery   Stage = "discovery"
	StageNegotiation Stage = "negotiation"
	StageClosing     Stage = "closing"
	StageSupport     Stage = "support"
	StageResolved    Stage = "resolved"
)

// stageOrder gives each stage other than StageSupport a monotonic rank used to
// reject downgrades that don't go through StageSupport.
var stageOrder = map[Stage]int{
	StageGreeting:    0,
	StageDiscovery:   1,
	StageNegotiation: 2,
	StageClosing:     3,
	StageResolved:    4,
}

// IsValid reports whether s is a recognized stage.
func (s Stage) IsValid() bool {
	if s == StageSupport {
		return true
	}
	_, ok := stageOrder[s]
	return ok
}

// IsDowngradeFrom reports whether transitioning from cur to s is a
// downgrade not permitted outside the support path.
func (s Stage) IsDowngradeFrom(cur Stage) bool {
	if s == StageSupport || cur == StageSupport {
		return false
	}
	curRank, curOK := stageOrder[cur]
	newRank, newOK := stageOrder[s]
	if !curOK || !newOK {
		return false
	}
	return newRank < curRank
}

// Conversation is unique per (tenant, platform, customer). The
// constraint covers resolved conversations too: FindOrCreate returns
// the existing row whatever its stage, and does not open a second
// conversation once one is resolved.
type Conversation struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	Platform             Platform   `json:"platform"`
	CustomerRef          string     `json:"customer_ref"` // platform-specific, opaque
	Stage                Stage      `json:"stage"`
	LastCustomerMessageAt *time.Time `json:"last_customer_message_at,omitempty"`
	LastOutboundAt       *time.Time `json:"last_outbound_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
