package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// MemoryStore is an in-process Store with the same version checks and
// all-or-nothing Atomically scope as the GORM store. Writers are serialized.
type MemoryStore struct {
	mu sync.RWMutex

	nextSubID     uint
	nextOverride  uint
	nextListingID uint

	subs      map[uint]*models.Subscription // by subscription id
	overrides map[uint]*models.EntitlementOverride
	listings  map[uint]*models.Listing
	audits    []models.AuditRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:      make(map[uint]*models.Subscription),
		overrides: make(map[uint]*models.EntitlementOverride),
		listings:  make(map[uint]*models.Listing),
	}
}

// PutSubscription inserts or replaces a subscription row as-is.
func (m *MemoryStore) PutSubscription(sub models.Subscription) *models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.byTenant(sub.TenantID); existing != nil && sub.ID == 0 {
		sub.ID = existing.ID
	}
	if sub.ID == 0 {
		m.nextSubID++
		sub.ID = m.nextSubID
	} else if sub.ID > m.nextSubID {
		m.nextSubID = sub.ID
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	m.subs[sub.ID] = sub.Clone()
	return sub.Clone()
}

// AddListing stores a listing and returns it with its id assigned.
func (m *MemoryStore) AddListing(l models.Listing) *models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextListingID++
	l.ID = m.nextListingID
	stored := l
	m.listings[l.ID] = &stored
	out := stored
	return &out
}

// Listings returns the tenant's listings ordered by id.
func (m *MemoryStore) Listings(tenantID uint) []models.Listing {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Listing
	for _, l := range m.listings {
		if l.TenantID == tenantID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuditRecords returns a copy of every appended audit record.
func (m *MemoryStore) AuditRecords() []models.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]models.AuditRecord(nil), m.audits...)
}

func (m *MemoryStore) Get(_ context.Context, tenantID uint) (*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return (&memTx{m: m}).SubscriptionByTenant(tenantID)
}

func (m *MemoryStore) GetByExternalRef(_ context.Context, ref string) (*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return (&memTx{m: m}).SubscriptionByExternalRef(ref)
}

func (m *MemoryStore) GetOverrides(_ context.Context, tenantID uint) (*models.EntitlementOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return (&memTx{m: m}).Overrides(tenantID)
}

func (m *MemoryStore) Upsert(ctx context.Context, tenantID uint, fields UpsertFields) (*models.Subscription, error) {
	var out *models.Subscription
	err := m.Atomically(ctx, func(tx Tx) error {
		sub, err := tx.Upsert(tenantID, fields)
		out = sub
		return err
	})
	return out, err
}

func (m *MemoryStore) Transition(ctx context.Context, subscriptionID, expectedVersion uint, status models.SubscriptionStatus, fields Fields) (*models.Subscription, error) {
	var out *models.Subscription
	err := m.Atomically(ctx, func(tx Tx) error {
		sub, err := tx.Transition(subscriptionID, expectedVersion, status, fields)
		out = sub
		return err
	})
	return out, err
}

func (m *MemoryStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *MemoryStore) ListReminderCandidates(_ context.Context, dueBefore time.Time, limit int) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Subscription
	for _, sub := range m.subs {
		if sub.Status != models.SubscriptionStatusActive || sub.CurrentPeriodEnd == nil || sub.LastReminderSentAt != nil {
			continue
		}
		if sub.CurrentPeriodEnd.After(dueBefore) {
			continue
		}
		out = append(out, *sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPeriodEnd.Before(*out[j].CurrentPeriodEnd) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkReminderSent(_ context.Context, subscriptionID, expectedVersion uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[subscriptionID]
	if !ok {
		return ErrNotFound
	}
	if sub.Version != expectedVersion {
		return ErrConflict
	}
	sub.LastReminderSentAt = &at
	sub.Version++
	return nil
}

func (m *MemoryStore) byTenant(tenantID uint) *models.Subscription {
	for _, sub := range m.subs {
		if sub.TenantID == tenantID {
			return sub
		}
	}
	return nil
}

type memSnapshot struct {
	nextSubID     uint
	nextOverride  uint
	nextListingID uint
	subs          map[uint]*models.Subscription
	overrides     map[uint]*models.EntitlementOverride
	listings      map[uint]models.Listing
	audits        int
}

func (m *MemoryStore) snapshot() memSnapshot {
	s := memSnapshot{
		nextSubID:     m.nextSubID,
		nextOverride:  m.nextOverride,
		nextListingID: m.nextListingID,
		subs:          make(map[uint]*models.Subscription, len(m.subs)),
		overrides:     make(map[uint]*models.EntitlementOverride, len(m.overrides)),
		listings:      make(map[uint]models.Listing, len(m.listings)),
		audits:        len(m.audits),
	}
	for id, sub := range m.subs {
		s.subs[id] = sub.Clone()
	}
	for id, ov := range m.overrides {
		s.overrides[id] = ov.Clone()
	}
	for id, l := range m.listings {
		s.listings[id] = *l
	}
	return s
}

func (m *MemoryStore) restore(s memSnapshot) {
	m.nextSubID = s.nextSubID
	m.nextOverride = s.nextOverride
	m.nextListingID = s.nextListingID
	m.subs = s.subs
	m.overrides = s.overrides
	m.listings = make(map[uint]*models.Listing, len(s.listings))
	for id, l := range s.listings {
		l := l
		m.listings[id] = &l
	}
	m.audits = m.audits[:s.audits]
}

// memTx runs with the store lock already held.
type memTx struct {
	m *MemoryStore
}

func (t *memTx) SubscriptionByTenant(tenantID uint) (*models.Subscription, error) {
	sub := t.m.byTenant(tenantID)
	if sub == nil {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (t *memTx) SubscriptionByExternalRef(ref string) (*models.Subscription, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	for _, sub := range t.m.subs {
		if sub.Ref() == ref {
			return sub.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) Overrides(tenantID uint) (*models.EntitlementOverride, error) {
	ov, ok := t.m.overrides[tenantID]
	if !ok {
		return nil, nil
	}
	return ov.Clone(), nil
}

func (t *memTx) Upsert(tenantID uint, fields UpsertFields) (*models.Subscription, error) {
	if ref := refValue(fields.ExternalRef); ref != "" {
		owner, err := t.SubscriptionByExternalRef(ref)
		if err == nil && owner.TenantID != tenantID {
			return nil, ErrExternalRefTaken
		}
	}

	current := t.m.byTenant(tenantID)
	if current == nil {
		sub := newSubscription(tenantID, fields)
		t.m.nextSubID++
		sub.ID = t.m.nextSubID
		now := time.Now()
		sub.CreatedAt, sub.UpdatedAt = now, now
		t.m.subs[sub.ID] = sub
		return sub.Clone(), nil
	}

	next, changed := upsertNext(current, fields)
	if !changed {
		return current.Clone(), nil
	}
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now()
	t.m.subs[next.ID] = next
	return next.Clone(), nil
}

func (t *memTx) Transition(subscriptionID, expectedVersion uint, status models.SubscriptionStatus, fields Fields) (*models.Subscription, error) {
	current, ok := t.m.subs[subscriptionID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, ErrConflict
	}
	next := current.Clone()
	applyFields(next, status, fields)
	next.Version++
	next.UpdatedAt = time.Now()
	t.m.subs[subscriptionID] = next
	return next.Clone(), nil
}

func (t *memTx) SaveOverrides(ov *models.EntitlementOverride) error {
	if ov == nil {
		return errors.New("billing: nil override")
	}
	now := time.Now()
	if existing, ok := t.m.overrides[ov.TenantID]; ok {
		ov.ID = existing.ID
		ov.CreatedAt = existing.CreatedAt
	} else {
		t.m.nextOverride++
		ov.ID = t.m.nextOverride
		ov.CreatedAt = now
	}
	ov.UpdatedAt = now
	t.m.overrides[ov.TenantID] = ov.Clone()
	return nil
}

func (t *memTx) ConsumeBoostCredit(tenantID uint) (int64, error) {
	ov, ok := t.m.overrides[tenantID]
	if !ok || ov.BoostCredits <= 0 {
		return 0, ErrNoBoostCredits
	}
	ov.BoostCredits--
	ov.UpdatedAt = time.Now()
	return ov.BoostCredits, nil
}

func (t *memTx) SetListingsPublished(tenantID uint, published bool) (int64, error) {
	var changed int64
	now := time.Now()
	for _, l := range t.m.listings {
		if l.TenantID != tenantID || l.Published == published {
			continue
		}
		l.Published = published
		if published {
			at := now
			l.PublishedAt = &at
		} else {
			l.PublishedAt = nil
		}
		changed++
	}
	return changed, nil
}

func (t *memTx) AppendAudit(rec *models.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	t.m.audits = append(t.m.audits, *rec)
	return nil
}
