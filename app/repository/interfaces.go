package repository

import (
	"github.com/ManuelReschke/VenueFox/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	TouchAPIKeyUsage(id uint) error
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// TenantRepository defines the interface for tenant and membership operations
type TenantRepository interface {
	Create(tenant *models.Tenant) error
	GetByID(id uint) (*models.Tenant, error)
	Update(tenant *models.Tenant) error
	Deactivate(id uint) error
	List(offset, limit int) ([]models.Tenant, error)
	AddMember(tenantID, userID uint, role string) error
	RemoveMember(tenantID, userID uint) error
	IsMember(tenantID, userID uint) (bool, error)
	ListByUser(userID uint) ([]models.Tenant, error)
}

// ListingRepository defines the interface for listing-related database operations.
// Published is owned by the billing reconciler; nothing here writes it.
type ListingRepository interface {
	Create(listing *models.Listing) error
	GetByID(id uint) (*models.Listing, error)
	GetPublishedBySlug(slug string) (*models.Listing, error)
	ListByTenant(tenantID uint, offset, limit int) ([]models.Listing, error)
	CountByTenant(tenantID uint) (total int64, published int64, err error)
	MarkBoosted(id uint) error
}

// AuditRepository reads the append-only audit trail.
type AuditRepository interface {
	ListByEntity(entityType string, entityID uint, limit int) ([]models.AuditRecord, error)
	ListByActor(actor string, limit int) ([]models.AuditRecord, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	Tenant  TenantRepository
	Listing ListingRepository
	Audit   AuditRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		Tenant:  NewTenantRepository(db),
		Listing: NewListingRepository(db),
		Audit:   NewAuditRepository(db),
	}
}
