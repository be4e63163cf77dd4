package models

import "time"

// EntitlementOverride holds the operator-set flags of a tenant. A nil flag means
// "no override"; true grants and false revokes regardless of billing state.
// Rows exist independently of any Subscription (comped accounts).
type EntitlementOverride struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     uint      `gorm:"not null;uniqueIndex:ux_entitlement_overrides_tenant" json:"tenant_id"`
	FreeListing  *bool     `gorm:"default:null" json:"free_listing,omitempty"`
	Analytics    *bool     `gorm:"default:null" json:"analytics,omitempty"`
	Inventory    *bool     `gorm:"default:null" json:"inventory,omitempty"`
	Tier         string    `gorm:"type:varchar(20);not null;default:''" json:"tier,omitempty"`
	BoostCredits int64     `gorm:"not null;default:0" json:"boost_credits"`
	UpdatedBy    string    `gorm:"type:varchar(191);not null;default:''" json:"updated_by"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Clone returns a deep copy.
func (o *EntitlementOverride) Clone() *EntitlementOverride {
	if o == nil {
		return nil
	}
	out := *o
	out.FreeListing = cloneBool(o.FreeListing)
	out.Analytics = cloneBool(o.Analytics)
	out.Inventory = cloneBool(o.Inventory)
	return &out
}
