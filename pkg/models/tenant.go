// Package models defines the core domain entities shared across the
// ingress-to-reply pipeline: tenants, credentials, conversations,
// messages, jobs, and their supporting state.
package models

import (
	"strings"
	"time"
)

// TenantStatus is the lifecycle state of a Tenant.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusTrialing  TenantStatus = "trialing"
)

// IsValid reports whether s is one of the recognized tenant statuses.
func (s TenantStatus) IsValid() bool {
	switch s {
	case TenantStatusActive, TenantStatusSuspended, TenantStatusTrialing:
		return true
	default:
		return false
	}
}

// Platform identifies the social-messaging platform an entity belongs to.
// Platform values are always normalized to lowercase at the boundary —
// historical casing inconsistency between "instagram" and "INSTAGRAM" is
// not carried forward; see DESIGN.md Open Questions.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformFacebook  Platform = "facebook"
)

// IsValid reports whether p is a recognized platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformInstagram, PlatformWhatsApp, PlatformFacebook:
		return true
	default:
		return false
	}
}

// NormalizePlatform lowercases and trims a raw platform string so that
// every persisted row and in-memory comparison uses a single canonical
// casing, regardless of what the upstream envelope supplied.
func NormalizePlatform(raw string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(raw)))
}

// AITone, AILanguage etc. live in TenantAIConfig, the per-tenant
// configuration blob referenced by the AI Orchestrator and Delivery
// Bridge.
type TenantAIConfig struct {
	Tone             string            `json:"tone"`
	Language         string            `json:"language"`
	WorkingHours     *WorkingHours     `json:"working_hours,omitempty"`
	Templates        map[string]string `json:"templates,omitempty"` // intent -> template_id
	PolicyDenyList   []string          `json:"policy_deny_list,omitempty"`
	ManyChatSettings *ManyChatSettings `json:"manychat_settings,omitempty"`
}

// WorkingHours bounds when the AI Orchestrator should favor a
// "currently closed" tone; purely advisory, not enforced anywhere.
type WorkingHours struct {
	Timezone string `json:"timezone"`
	Start    string `json:"start"` // "09:00"
	End      string `json:"end"`   // "18:00"
}

// ManyChatSettings configures the optional ManyChat bridge channel for
// a tenant. ManyChatUDID is an optional per-tenant attribute consumed
// only by the ManyChat Adapter, never used as an admission gate
// elsewhere — see DESIGN.md Open Questions.
type ManyChatSettings struct {
	Enabled        bool   `json:"enabled"`
	FlowIDGreeting string `json:"flow_id_greeting,omitempty"`
	FlowIDSupport  string `json:"flow_id_support,omitempty"`
	ManyChatUDID   string `json:"manychat_udid,omitempty"`
}

// Tenant is a Merchant: the unit of data ownership for every other
// tenant-scoped entity.
type Tenant struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Status      TenantStatus   `json:"status"`
	AIConfig    TenantAIConfig `json:"ai_config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
