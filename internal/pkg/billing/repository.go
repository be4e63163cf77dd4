package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/VenueFox/app/models"
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

type gormStore struct {
	db *gorm.DB
}

// NewRepository creates a Store backed by GORM.
func NewRepository(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Get(ctx context.Context, tenantID uint) (*models.Subscription, error) {
	return (&gormTx{db: s.db.WithContext(ctx)}).SubscriptionByTenant(tenantID)
}

func (s *gormStore) GetByExternalRef(ctx context.Context, ref string) (*models.Subscription, error) {
	return (&gormTx{db: s.db.WithContext(ctx)}).SubscriptionByExternalRef(ref)
}

func (s *gormStore) GetOverrides(ctx context.Context, tenantID uint) (*models.EntitlementOverride, error) {
	return (&gormTx{db: s.db.WithContext(ctx)}).Overrides(tenantID)
}

func (s *gormStore) Upsert(ctx context.Context, tenantID uint, fields UpsertFields) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.Atomically(ctx, func(tx Tx) error {
		sub, err := tx.Upsert(tenantID, fields)
		out = sub
		return err
	})
	return out, err
}

func (s *gormStore) Transition(ctx context.Context, subscriptionID, expectedVersion uint, status models.SubscriptionStatus, fields Fields) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.Atomically(ctx, func(tx Tx) error {
		sub, err := tx.Transition(subscriptionID, expectedVersion, status, fields)
		out = sub
		return err
	})
	return out, err
}

// Atomically reports a deadlock or lock wait timeout as ErrConflict, so the
// reconciler retries it with a fresh read like a version conflict.
func (s *gormStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, lock: true})
	})
	if isLockConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *gormStore) ListReminderCandidates(ctx context.Context, dueBefore time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND current_period_end IS NOT NULL AND current_period_end <= ? AND last_reminder_sent_at IS NULL", models.SubscriptionStatusActive, dueBefore).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (s *gormStore) MarkReminderSent(ctx context.Context, subscriptionID, expectedVersion uint, at time.Time) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", subscriptionID, expectedVersion).
		Updates(map[string]interface{}{
			"last_reminder_sent_at": at,
			"version":               gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return missingOrConflict(db, subscriptionID)
	}
	return nil
}

// gormTx reads with SELECT ... FOR UPDATE when lock is set, so writers of one
// tenant queue behind each other for the rest of the transaction. Row lock
// order is always subscription first, then overrides.
type gormTx struct {
	db   *gorm.DB
	lock bool
}

func (t *gormTx) read() *gorm.DB {
	if t.lock {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

func (t *gormTx) SubscriptionByTenant(tenantID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := t.read().Where("tenant_id = ?", tenantID).First(&sub).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &sub, nil
}

func (t *gormTx) SubscriptionByExternalRef(ref string) (*models.Subscription, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	var sub models.Subscription
	if err := t.read().Where("external_ref = ?", ref).First(&sub).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &sub, nil
}

func (t *gormTx) Overrides(tenantID uint) (*models.EntitlementOverride, error) {
	var ov models.EntitlementOverride
	err := t.read().Where("tenant_id = ?", tenantID).First(&ov).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ov, nil
}

func (t *gormTx) Upsert(tenantID uint, fields UpsertFields) (*models.Subscription, error) {
	if ref := refValue(fields.ExternalRef); ref != "" {
		owner, err := t.SubscriptionByExternalRef(ref)
		if err == nil && owner.TenantID != tenantID {
			return nil, ErrExternalRefTaken
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	current, err := t.SubscriptionByTenant(tenantID)
	if errors.Is(err, ErrNotFound) {
		sub := newSubscription(tenantID, fields)
		if err := t.db.Create(sub).Error; err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}
		return sub, nil
	}
	if err != nil {
		return nil, err
	}

	next, changed := upsertNext(current, fields)
	if !changed {
		return current, nil
	}
	res := t.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", current.ID, current.Version).
		Updates(map[string]interface{}{
			"plan":                 next.Plan,
			"status":               next.Status,
			"external_ref":         next.ExternalRef,
			"canceled_at":          next.CanceledAt,
			"cancel_at_period_end": next.CancelAtPeriodEnd,
			"deferred_event":       next.DeferredEvent,
			"version":              gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return t.SubscriptionByTenant(tenantID)
}

func (t *gormTx) Transition(subscriptionID, expectedVersion uint, status models.SubscriptionStatus, fields Fields) (*models.Subscription, error) {
	updates := fieldUpdates(status, fields)
	updates["version"] = gorm.Expr("version + 1")

	res := t.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", subscriptionID, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, missingOrConflict(t.db, subscriptionID)
	}

	var sub models.Subscription
	if err := t.db.First(&sub, subscriptionID).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &sub, nil
}

func (t *gormTx) SaveOverrides(ov *models.EntitlementOverride) error {
	if err := t.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"free_listing",
			"analytics",
			"inventory",
			"tier",
			"boost_credits",
			"updated_by",
			"updated_at",
		}),
	}).Create(ov).Error; err != nil {
		return err
	}
	// the insert id is not reliable when the upsert updated an existing row
	var saved models.EntitlementOverride
	if err := t.db.Where("tenant_id = ?", ov.TenantID).First(&saved).Error; err != nil {
		return err
	}
	*ov = saved
	return nil
}

func (t *gormTx) ConsumeBoostCredit(tenantID uint) (int64, error) {
	res := t.db.Model(&models.EntitlementOverride{}).
		Where("tenant_id = ? AND boost_credits > 0", tenantID).
		UpdateColumn("boost_credits", gorm.Expr("boost_credits - 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNoBoostCredits
	}
	var remaining int64
	err := t.db.Model(&models.EntitlementOverride{}).
		Where("tenant_id = ?", tenantID).
		Pluck("boost_credits", &remaining).Error
	return remaining, err
}

func (t *gormTx) SetListingsPublished(tenantID uint, published bool) (int64, error) {
	updates := map[string]interface{}{"published": published}
	if published {
		updates["published_at"] = time.Now()
	} else {
		updates["published_at"] = nil
	}
	res := t.db.Model(&models.Listing{}).
		Where("tenant_id = ? AND published <> ?", tenantID, published).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (t *gormTx) AppendAudit(rec *models.AuditRecord) error {
	return t.db.Create(rec).Error
}

// missingOrConflict tells apart the two reasons a versioned update matched no
// row.
func missingOrConflict(db *gorm.DB, subscriptionID uint) error {
	var count int64
	if err := db.Model(&models.Subscription{}).Where("id = ?", subscriptionID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func isLockConflict(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func refValue(ref *string) string {
	if ref == nil {
		return ""
	}
	return *ref
}

func newSubscription(tenantID uint, fields UpsertFields) *models.Subscription {
	plan := fields.Plan
	if plan == "" {
		plan = models.PlanMonthly
	}
	sub := &models.Subscription{
		TenantID: tenantID,
		Plan:     plan,
		Status:   models.SubscriptionStatusIncomplete,
		Version:  1,
	}
	if ref := refValue(fields.ExternalRef); ref != "" {
		sub.ExternalRef = &ref
	}
	return sub
}

// upsertNext computes the row after an upsert on an existing subscription.
func upsertNext(current *models.Subscription, fields UpsertFields) (*models.Subscription, bool) {
	next := current.Clone()
	changed := false

	if fields.Restart && !isLive(current.Status) {
		if current.Status != models.SubscriptionStatusIncomplete || current.CanceledAt != nil {
			changed = true
		}
		next.Status = models.SubscriptionStatusIncomplete
		next.CanceledAt = nil
		next.CancelAtPeriodEnd = false
		if next.DeferredEvent != "" {
			next.DeferredEvent = ""
			changed = true
		}
		if fields.ExternalRef == nil && next.ExternalRef != nil {
			next.ExternalRef = nil
			changed = true
		}
	}
	if fields.Plan != "" && fields.Plan != current.Plan && !isLive(current.Status) {
		next.Plan = fields.Plan
		changed = true
	}
	if ref := refValue(fields.ExternalRef); ref != "" && ref != current.Ref() {
		next.ExternalRef = &ref
		changed = true
	}
	return next, changed
}
