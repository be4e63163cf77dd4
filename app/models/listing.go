package models

import "time"

// Listing is a publishable venue owned by exactly one tenant. Published is set
// from the tenant's publish right on creation; after that only the reconciler
// writes it.
type Listing struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TenantID    uint       `gorm:"not null;index" json:"tenant_id"`
	Title       string     `gorm:"type:varchar(200);not null" json:"title"`
	Slug        string     `gorm:"type:varchar(200);not null;uniqueIndex" json:"slug"`
	Published   bool       `gorm:"not null;default:false;index" json:"published"`
	PublishedAt *time.Time `gorm:"type:timestamp;default:null" json:"published_at,omitempty"`
	BoostedAt   *time.Time `gorm:"type:timestamp;default:null" json:"boosted_at,omitempty"`
	ViewCount   int64      `gorm:"not null;default:0" json:"view_count"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
