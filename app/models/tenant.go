package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	TENANT_STATUS_ACTIVE      = "active"
	TENANT_STATUS_DEACTIVATED = "deactivated"

	MEMBER_ROLE_OWNER = "owner"
	MEMBER_ROLE_STAFF = "staff"
)

// Tenant is an owner account. Tenants are deactivated, never deleted.
type Tenant struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Name          string     `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	BillingEmail  string     `gorm:"type:varchar(200);not null;default:''" json:"billing_email" validate:"omitempty,email,max=200"`
	Status        string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status" validate:"oneof=active deactivated"`
	DeactivatedAt *time.Time `gorm:"type:timestamp;default:null" json:"deactivated_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Tenant) Validate() error {
	return validator.New().Struct(t)
}

// IsActive reports whether the tenant has not been deactivated.
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == TENANT_STATUS_ACTIVE
}

// TenantMember links a user identity to a tenant it may act for.
type TenantMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"not null;index:ux_tenant_members_pair,unique,priority:1" json:"tenant_id"`
	UserID    uint      `gorm:"not null;index:ux_tenant_members_pair,unique,priority:2;index" json:"user_id"`
	Role      string    `gorm:"type:varchar(20);not null;default:'owner'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
