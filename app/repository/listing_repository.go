package repository

import (
	"errors"
	"time"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/VenueFox/internal/pkg/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type listingRepository struct {
	db *gorm.DB
}

// NewListingRepository creates a new listing repository instance
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

// Create stores a new listing with Published set to the tenant's current
// publish right. The subscription and override rows are read FOR UPDATE, so a
// billing transition running at the same time either sees the new listing or
// waits for it.
func (r *listingRepository) Create(listing *models.Listing) error {
	if listing.Slug == "" {
		s, err := slug.ForTitle(listing.Title)
		if err != nil {
			return err
		}
		listing.Slug = s
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		locked := tx.Clauses(clause.Locking{Strength: "UPDATE"})

		var sub *models.Subscription
		var row models.Subscription
		err := locked.Where("tenant_id = ?", listing.TenantID).First(&row).Error
		switch {
		case err == nil:
			sub = &row
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var ov *models.EntitlementOverride
		var ovRow models.EntitlementOverride
		err = locked.Where("tenant_id = ?", listing.TenantID).First(&ovRow).Error
		switch {
		case err == nil:
			ov = &ovRow
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		listing.Published = entitlements.Resolve(sub, ov).CanPublish
		listing.PublishedAt = nil
		if listing.Published {
			now := time.Now()
			listing.PublishedAt = &now
		}
		return tx.Create(listing).Error
	})
}

func (r *listingRepository) GetByID(id uint) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.First(&listing, id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *listingRepository) GetPublishedBySlug(slug string) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.Where("slug = ? AND published = ?", slug, true).First(&listing).Error
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *listingRepository) ListByTenant(tenantID uint, offset, limit int) ([]models.Listing, error) {
	var listings []models.Listing
	err := r.db.Where("tenant_id = ?", tenantID).
		Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&listings).Error
	return listings, err
}

// CountByTenant returns the total and the published listing count.
func (r *listingRepository) CountByTenant(tenantID uint) (int64, int64, error) {
	var row struct {
		Total     int64
		Published int64
	}
	err := r.db.Model(&models.Listing{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN published THEN 1 ELSE 0 END), 0) AS published").
		Where("tenant_id = ?", tenantID).
		Scan(&row).Error
	return row.Total, row.Published, err
}

func (r *listingRepository) MarkBoosted(id uint) error {
	res := r.db.Model(&models.Listing{}).Where("id = ?", id).UpdateColumn("boosted_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
