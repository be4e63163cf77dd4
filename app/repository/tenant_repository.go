package repository

import (
	"time"

	"github.com/ManuelReschke/VenueFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository instance
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) Create(tenant *models.Tenant) error {
	if tenant.Status == "" {
		tenant.Status = models.TENANT_STATUS_ACTIVE
	}
	return r.db.Create(tenant).Error
}

func (r *tenantRepository) GetByID(id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.First(&tenant, id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepository) Update(tenant *models.Tenant) error {
	return r.db.Save(tenant).Error
}

// Deactivate marks the tenant deactivated. Tenants are never hard deleted.
func (r *tenantRepository) Deactivate(id uint) error {
	now := time.Now()
	res := r.db.Model(&models.Tenant{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":         models.TENANT_STATUS_DEACTIVATED,
		"deactivated_at": now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *tenantRepository) List(offset, limit int) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.Order("id ASC").Offset(offset).Limit(limit).Find(&tenants).Error
	return tenants, err
}

// AddMember links a user to a tenant; re-adding an existing pair is a no-op.
func (r *tenantRepository) AddMember(tenantID, userID uint, role string) error {
	if role == "" {
		role = models.MEMBER_ROLE_OWNER
	}
	member := models.TenantMember{TenantID: tenantID, UserID: userID, Role: role}
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
}

func (r *tenantRepository) RemoveMember(tenantID, userID uint) error {
	return r.db.Where("tenant_id = ? AND user_id = ?", tenantID, userID).Delete(&models.TenantMember{}).Error
}

func (r *tenantRepository) IsMember(tenantID, userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.TenantMember{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Count(&count).Error
	return count > 0, err
}

// ListByUser returns the tenants a user belongs to.
func (r *tenantRepository) ListByUser(userID uint) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.Joins("JOIN tenant_members ON tenant_members.tenant_id = tenants.id").
		Where("tenant_members.user_id = ?", userID).
		Order("tenants.id ASC").
		Find(&tenants).Error
	return tenants, err
}
