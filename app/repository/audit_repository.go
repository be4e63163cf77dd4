package repository

import (
	"github.com/ManuelReschke/VenueFox/app/models"
	"gorm.io/gorm"
)

const defaultAuditLimit = 50

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// ListByEntity returns the newest records for one entity first.
func (r *auditRepository) ListByEntity(entityType string, entityID uint, limit int) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	err := r.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC").
		Limit(auditLimit(limit)).
		Find(&records).Error
	return records, err
}

func (r *auditRepository) ListByActor(actor string, limit int) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	err := r.db.Where("actor = ?", actor).
		Order("created_at DESC").
		Limit(auditLimit(limit)).
		Find(&records).Error
	return records, err
}

func auditLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultAuditLimit
	}
	return limit
}
