package models

import "time"

// WindowState tracks the 24-hour reply window per (tenant, customer).
// The authoritative copy lives in Postgres; pkg/window additionally
// caches it in Redis for low-latency reads from the Delivery Bridge.
type WindowState struct {
	TenantID      string    `json:"tenant_id"`
	CustomerRef   string    `json:"customer_ref"`
	LastInboundAt time.Time `json:"last_inbound_at"`
}
