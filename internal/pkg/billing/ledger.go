package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/VenueFox/app/models"
)

const (
	LedgerBackendDB    = "db"
	LedgerBackendRedis = "redis"

	redisLedgerPrefix = "billing:ledger:"
)

// LedgerEntry is one delivery recorded in the idempotency ledger.
type LedgerEntry struct {
	Key             string
	Provider        string
	ProviderEventID string
	ExternalRef     string
	EventType       string
	ObservedAt      time.Time
}

// Ledger rejects redelivered events. Record must be atomic: of two concurrent
// calls with one key exactly one reports fresh.
type Ledger interface {
	Record(ctx context.Context, entry LedgerEntry) (bool, error)
	// Forget removes a key so a failed delivery can be retried.
	Forget(ctx context.Context, key string) error
	MarkProcessed(ctx context.Context, key string, outcome Outcome, processingErr error) error
	// Prune drops entries recorded before olderThan and returns how many.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// LedgerKey hashes (external ref, event type, observed at).
func LedgerKey(externalRef, eventType string, observedAt time.Time) string {
	sum := sha256.Sum256([]byte(externalRef + "|" + eventType + "|" + strconv.FormatInt(observedAt.UnixNano(), 10)))
	return hex.EncodeToString(sum[:])
}

// EntryFor builds the ledger entry of an event.
func EntryFor(ev Event) LedgerEntry {
	return LedgerEntry{
		Key:             LedgerKey(ev.ExternalRef, ev.EventType, ev.ObservedAt),
		Provider:        ev.Provider,
		ProviderEventID: ev.ProviderEventID,
		ExternalRef:     ev.ExternalRef,
		EventType:       ev.EventType,
		ObservedAt:      ev.ObservedAt,
	}
}

type gormLedger struct {
	db         *gorm.DB
	claimAfter time.Duration
	now        func() time.Time
}

// NewDBLedger keeps the ledger in the billing_webhook_events table. A pending
// entry untouched for claimAfter is handed to the next delivery of its key.
func NewDBLedger(db *gorm.DB, claimAfter time.Duration) Ledger {
	return &gormLedger{db: db, claimAfter: claimAfter, now: time.Now}
}

func (l *gormLedger) Record(ctx context.Context, entry LedgerEntry) (bool, error) {
	event := &models.BillingWebhookEvent{
		Provider:        entry.Provider,
		LedgerKey:       entry.Key,
		ProviderEventID: entry.ProviderEventID,
		ExternalRef:     entry.ExternalRef,
		EventType:       entry.EventType,
		ObservedAt:      entry.ObservedAt,
		Outcome:         models.WebhookOutcomePending,
	}
	tx := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ledger_key"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}
	if l.claimAfter <= 0 {
		return false, nil
	}
	return l.claimAbandoned(ctx, entry)
}

// claimAbandoned takes over a pending entry whose delivery never finished.
// The conditional update lets only one concurrent redelivery win.
func (l *gormLedger) claimAbandoned(ctx context.Context, entry LedgerEntry) (bool, error) {
	now := l.now()
	res := l.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("ledger_key = ? AND outcome = ? AND updated_at < ?", entry.Key, models.WebhookOutcomePending, now.Add(-l.claimAfter)).
		Updates(map[string]interface{}{
			"provider_event_id": entry.ProviderEventID,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim ledger key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	log.Warnf("[Webhook] Reclaimed abandoned ledger entry %s (%s)", entry.Key, entry.EventType)
	return true, nil
}

func (l *gormLedger) Forget(ctx context.Context, key string) error {
	return l.db.WithContext(ctx).Where("ledger_key = ?", key).Delete(&models.BillingWebhookEvent{}).Error
}

func (l *gormLedger) MarkProcessed(ctx context.Context, key string, outcome Outcome, processingErr error) error {
	now := l.now()
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	updates := map[string]interface{}{
		"outcome":          string(outcome),
		"processed_at":     &now,
		"processing_error": errMsg,
	}
	return l.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("ledger_key = ?", key).Updates(updates).Error
}

func (l *gormLedger) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tx := l.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&models.BillingWebhookEvent{})
	return tx.RowsAffected, tx.Error
}

type redisLedger struct {
	client     *redis.Client
	retention  time.Duration
	claimAfter time.Duration
}

// NewRedisLedger keeps keys in Redis; expiry replaces pruning. A pending key
// lives for claimAfter only, so a delivery that died mid-flight does not block
// redelivery. MarkProcessed extends it to the full retention.
func NewRedisLedger(client *redis.Client, retention, claimAfter time.Duration) Ledger {
	if claimAfter <= 0 || claimAfter > retention {
		claimAfter = retention
	}
	return &redisLedger{client: client, retention: retention, claimAfter: claimAfter}
}

func (l *redisLedger) Record(ctx context.Context, entry LedgerEntry) (bool, error) {
	ok, err := l.client.SetNX(ctx, redisLedgerPrefix+entry.Key, models.WebhookOutcomePending, l.claimAfter).Result()
	if err != nil {
		return false, fmt.Errorf("record ledger key: %w", err)
	}
	return ok, nil
}

func (l *redisLedger) Forget(ctx context.Context, key string) error {
	return l.client.Del(ctx, redisLedgerPrefix+key).Err()
}

func (l *redisLedger) MarkProcessed(ctx context.Context, key string, outcome Outcome, processingErr error) error {
	value := string(outcome)
	if processingErr != nil {
		value = "error:" + processingErr.Error()
	}
	return l.client.Set(ctx, redisLedgerPrefix+key, value, l.retention).Err()
}

func (l *redisLedger) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}
