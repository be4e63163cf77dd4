package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// Action names written to audit records.
const (
	ActionOverrideSet        = "override.set"
	ActionSubscriptionPause  = "subscription.pause"
	ActionSubscriptionResume = "subscription.reactivate"
)

var (
	ErrMissingActor     = errors.New("audit: actor is required")
	ErrAuditWriteFailed = errors.New("audit: write failed")
)

// Writer is the append-only destination. billing.Tx satisfies it, which keeps
// the record in the transaction of the change it describes.
type Writer interface {
	AppendAudit(rec *models.AuditRecord) error
}

// Entry is one privileged change to be recorded.
type Entry struct {
	Actor    string
	Action   string
	Kind     Kind
	EntityID uint
	Before   *Snapshot
	After    *Snapshot
}

// Append builds the record for e and writes it to w. Every failure is
// reported as ErrAuditWriteFailed so callers can roll back the change.
func Append(w Writer, e Entry) (*models.AuditRecord, error) {
	actor := strings.TrimSpace(e.Actor)
	if actor == "" {
		return nil, fmt.Errorf("%w: %w", ErrAuditWriteFailed, ErrMissingActor)
	}

	before, err := Encode(e.Before)
	if err != nil {
		return nil, fmt.Errorf("%w: before: %w", ErrAuditWriteFailed, err)
	}
	after, err := Encode(e.After)
	if err != nil {
		return nil, fmt.Errorf("%w: after: %w", ErrAuditWriteFailed, err)
	}

	rec := &models.AuditRecord{
		ID:         uuid.NewString(),
		Actor:      actor,
		Action:     e.Action,
		EntityType: string(e.Kind),
		EntityID:   e.EntityID,
		Before:     before,
		After:      after,
		CreatedAt:  time.Now(),
	}
	if err := w.AppendAudit(rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuditWriteFailed, err)
	}
	return rec, nil
}
