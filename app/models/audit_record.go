package models

import "time"

// Audit entity types.
const (
	AuditEntityOverride     = "entitlement_override"
	AuditEntitySubscription = "subscription"
)

// AuditRecord is an append-only trail entry for privileged changes. Before and
// After carry JSON encoded snapshots of the entity.
type AuditRecord struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	Actor      string    `gorm:"type:varchar(191);not null;index" json:"actor"`
	Action     string    `gorm:"type:varchar(64);not null" json:"action"`
	EntityType string    `gorm:"type:varchar(40);not null;index:idx_audit_records_entity,priority:1" json:"entity_type"`
	EntityID   uint      `gorm:"not null;index:idx_audit_records_entity,priority:2" json:"entity_id"`
	Before     string    `gorm:"type:text" json:"before"`
	After      string    `gorm:"type:text" json:"after"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
