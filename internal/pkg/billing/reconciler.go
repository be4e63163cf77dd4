package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/VenueFox/internal/pkg/metrics"
)

// Notifier receives committed status changes. Implementations must not block;
// delivery failures are theirs to log.
type Notifier interface {
	SubscriptionChanged(ctx context.Context, res Result)
}

// AdminHook runs inside the transaction of an admin transition, after the
// status write and the publish flip. An error rolls back all of it.
type AdminHook func(tx Tx, before, after *models.Subscription, set entitlements.Set) error

// OverrideHook runs inside the transaction of an override write.
type OverrideHook func(tx Tx, before, after *models.EntitlementOverride, set entitlements.Set) error

// Reconciler applies transitions to the store and keeps the tenant's listings
// in line with the resolved publish right, in one transaction.
type Reconciler struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// NewReconciler creates a reconciler. notifier may be nil.
func NewReconciler(store Store, notifier Notifier) *Reconciler {
	return &Reconciler{store: store, notifier: notifier, now: time.Now}
}

// Store returns the backing store.
func (r *Reconciler) Store() Store {
	return r.store
}

// Apply runs one processor event through the state machine. Expected no-op
// outcomes (stale, unknown ref, ignored) are returned without error. A version
// conflict is retried once with a fresh read.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Result, error) {
	res, err := r.retryOnConflict(func() (Result, error) {
		return r.applyOnce(ctx, ev)
	})
	r.finish(ctx, string(ev.Kind), res, err)
	return res, err
}

// ApplyAdmin runs an operator pause or reactivate for the tenant.
func (r *Reconciler) ApplyAdmin(ctx context.Context, tenantID uint, kind EventKind, hook AdminHook) (Result, error) {
	if kind != EventAdminPause && kind != EventAdminReactivate {
		return Result{}, ErrInvalidTransition
	}
	res, err := r.retryOnConflict(func() (Result, error) {
		return r.adminOnce(ctx, tenantID, kind, hook)
	})
	r.finish(ctx, string(kind), res, err)
	return res, err
}

// ApplyOverride mutates the tenant's overrides, recomputes the publish right
// and flips listings to match, all in one transaction. When the tenant has a
// subscription its version is bumped so concurrent transitions serialize
// against the override write.
func (r *Reconciler) ApplyOverride(ctx context.Context, tenantID uint, mutate func(ov *models.EntitlementOverride) error, hook OverrideHook) (entitlements.Set, error) {
	var set entitlements.Set
	_, err := r.retryOnConflict(func() (Result, error) {
		var err error
		set, err = r.overrideOnce(ctx, tenantID, mutate, hook)
		return Result{Outcome: OutcomeApplied}, err
	})
	return set, err
}

func (r *Reconciler) retryOnConflict(fn func() (Result, error)) (Result, error) {
	res, err := fn()
	if errors.Is(err, ErrConflict) {
		metrics.ConflictRetries.Inc()
		res, err = fn()
	}
	return res, err
}

func (r *Reconciler) finish(ctx context.Context, kind string, res Result, err error) {
	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
	}
	metrics.Transitions.WithLabelValues(kind, outcome).Inc()

	if err != nil || res.Outcome != OutcomeApplied || r.notifier == nil || res.From == res.To {
		return
	}
	r.notifier.SubscriptionChanged(context.WithoutCancel(ctx), res)
}

func (r *Reconciler) applyOnce(ctx context.Context, ev Event) (Result, error) {
	var res Result
	err := r.store.Atomically(ctx, func(tx Tx) error {
		if ev.Kind == EventLink {
			sub, ok, err := r.link(tx, ev)
			if err != nil || !ok {
				res.Outcome = OutcomeIgnored
				return err
			}
			if ev.FollowUp == "" {
				res = Result{Outcome: OutcomeApplied, Subscription: sub, From: sub.Status, To: sub.Status}
				return nil
			}
			ev.Kind = ev.FollowUp
		}

		sub, err := tx.SubscriptionByExternalRef(ev.ExternalRef)
		if errors.Is(err, ErrNotFound) {
			log.Infof("[Billing] No subscription for external ref %q (%s), discarding", ev.ExternalRef, ev.EventType)
			res.Outcome = OutcomeUnknownRef
			return nil
		}
		if err != nil {
			return err
		}

		if sub.LastReconciledAt != nil && ev.ObservedAt.Before(*sub.LastReconciledAt) {
			log.Infof("[Billing] Stale %s for subscription %d: observed %s before last reconciled %s",
				ev.Kind, sub.ID, ev.ObservedAt.Format(time.RFC3339Nano), sub.LastReconciledAt.Format(time.RFC3339Nano))
			res = Result{Outcome: OutcomeStale, Subscription: sub, From: sub.Status, To: sub.Status}
			return nil
		}

		to, fields, ok := nextState(sub, ev)
		if !ok {
			out, err := r.deferEvent(tx, sub, ev)
			res = out
			return err
		}
		observed := ev.ObservedAt
		fields.LastReconciledAt = &observed

		out, _, err := r.commit(tx, sub, to, fields)
		if err != nil {
			return err
		}
		res = out
		return r.replayDeferred(tx, &res)
	})
	return res, err
}

// deferEvent keeps an event that is not allowed from the current status so a
// later transition can replay it. Only the newest deferred event is kept.
func (r *Reconciler) deferEvent(tx Tx, sub *models.Subscription, ev Event) (Result, error) {
	res := Result{Outcome: OutcomeDeferred, Subscription: sub, From: sub.Status, To: sub.Status}
	if sub.Status == models.SubscriptionStatusCanceled && (ev.Kind == EventCanceled || ev.Kind == EventSuspended) {
		res.Outcome = OutcomeIgnored
		return res, nil
	}
	if held, ok := decodeDeferred(sub.DeferredEvent); ok && held.ObservedAt.After(ev.ObservedAt) {
		log.Infof("[Billing] Dropping %s for subscription %d in status %s, a newer %s is already deferred",
			ev.Kind, sub.ID, sub.Status, held.Kind)
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	encoded, err := encodeDeferred(ev)
	if err != nil {
		return Result{}, err
	}
	next, err := tx.Transition(sub.ID, sub.Version, sub.Status, Fields{Deferred: &encoded})
	if err != nil {
		return Result{}, err
	}
	log.Infof("[Billing] Deferring %s for subscription %d in status %s", ev.Kind, sub.ID, sub.Status)
	res.Subscription = next
	return res, nil
}

// replayDeferred applies the deferred event on top of a committed transition.
// A deferred event older than the transition is dropped; one that is still not
// allowed stays deferred.
func (r *Reconciler) replayDeferred(tx Tx, res *Result) error {
	sub := res.Subscription
	ev, ok := decodeDeferred(sub.DeferredEvent)
	if !ok {
		if sub.DeferredEvent == "" {
			return nil
		}
		return r.clearDeferred(tx, res)
	}
	if sub.LastReconciledAt != nil && ev.ObservedAt.Before(*sub.LastReconciledAt) {
		log.Infof("[Billing] Deferred %s for subscription %d superseded", ev.Kind, sub.ID)
		return r.clearDeferred(tx, res)
	}

	to, fields, ok := nextState(sub, ev)
	if !ok {
		return nil
	}
	observed := ev.ObservedAt
	cleared := ""
	fields.LastReconciledAt = &observed
	fields.Deferred = &cleared

	out, _, err := r.commit(tx, sub, to, fields)
	if err != nil {
		return err
	}
	log.Infof("[Billing] Replayed deferred %s for subscription %d: %s -> %s", ev.Kind, sub.ID, sub.Status, out.To)
	res.Subscription = out.Subscription
	res.To = out.To
	res.Published = out.Published
	return nil
}

func (r *Reconciler) clearDeferred(tx Tx, res *Result) error {
	sub := res.Subscription
	cleared := ""
	next, err := tx.Transition(sub.ID, sub.Version, sub.Status, Fields{Deferred: &cleared})
	if err != nil {
		return err
	}
	res.Subscription = next
	return nil
}

// link attaches the processor reference to the tenant named in checkout
// metadata. A reference that belongs to another tenant is logged and skipped.
func (r *Reconciler) link(tx Tx, ev Event) (*models.Subscription, bool, error) {
	if ev.ExternalRef == "" {
		log.Warnf("[Billing] Link event %s without external ref", ev.ProviderEventID)
		return nil, false, nil
	}
	if ev.TenantID == 0 {
		if existing, err := tx.SubscriptionByExternalRef(ev.ExternalRef); err == nil {
			return existing, true, nil
		}
		log.Warnf("[Billing] Link event %s for %q carries no tenant", ev.ProviderEventID, ev.ExternalRef)
		return nil, false, nil
	}

	ref := ev.ExternalRef
	sub, err := tx.Upsert(ev.TenantID, UpsertFields{Plan: ev.Plan, ExternalRef: &ref})
	if errors.Is(err, ErrExternalRefTaken) {
		log.Warnf("[Billing] External ref %q already linked to another tenant, not linking tenant %d", ref, ev.TenantID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (r *Reconciler) adminOnce(ctx context.Context, tenantID uint, kind EventKind, hook AdminHook) (Result, error) {
	var res Result
	err := r.store.Atomically(ctx, func(tx Tx) error {
		sub, err := tx.SubscriptionByTenant(tenantID)
		if err != nil {
			return err
		}
		to, fields, ok := nextState(sub, Event{Kind: kind, ObservedAt: r.now()})
		if !ok {
			return ErrInvalidTransition
		}

		out, set, err := r.commit(tx, sub, to, fields)
		if err != nil {
			return err
		}
		res = out
		if hook != nil {
			return hook(tx, sub, out.Subscription, set)
		}
		return nil
	})
	return res, err
}

func (r *Reconciler) overrideOnce(ctx context.Context, tenantID uint, mutate func(ov *models.EntitlementOverride) error, hook OverrideHook) (entitlements.Set, error) {
	var set entitlements.Set
	err := r.store.Atomically(ctx, func(tx Tx) error {
		sub, err := tx.SubscriptionByTenant(tenantID)
		if errors.Is(err, ErrNotFound) {
			sub = nil
		} else if err != nil {
			return err
		}

		current, err := tx.Overrides(tenantID)
		if err != nil {
			return err
		}
		before := current.Clone()
		next := current.Clone()
		if next == nil {
			next = &models.EntitlementOverride{TenantID: tenantID}
		}
		if err := mutate(next); err != nil {
			return err
		}
		if err := tx.SaveOverrides(next); err != nil {
			return err
		}

		if sub != nil {
			sub, err = tx.Transition(sub.ID, sub.Version, sub.Status, Fields{})
			if err != nil {
				return err
			}
		}

		set = entitlements.Resolve(sub, next)
		if _, err := tx.SetListingsPublished(tenantID, set.CanPublish); err != nil {
			return err
		}
		if hook != nil {
			return hook(tx, before, next, set)
		}
		return nil
	})
	return set, err
}

// commit writes the status and flips listings to the resolved publish right.
func (r *Reconciler) commit(tx Tx, sub *models.Subscription, to models.SubscriptionStatus, fields Fields) (Result, entitlements.Set, error) {
	ov, err := tx.Overrides(sub.TenantID)
	if err != nil {
		return Result{}, entitlements.Set{}, err
	}

	next, err := tx.Transition(sub.ID, sub.Version, to, fields)
	if err != nil {
		return Result{}, entitlements.Set{}, err
	}

	set := entitlements.Resolve(next, ov)
	changed, err := tx.SetListingsPublished(next.TenantID, set.CanPublish)
	if err != nil {
		return Result{}, entitlements.Set{}, err
	}
	if changed > 0 {
		log.Infof("[Billing] Tenant %d: %d listings set published=%t", next.TenantID, changed, set.CanPublish)
	}

	published := set.CanPublish
	return Result{
		Outcome:      OutcomeApplied,
		Subscription: next,
		From:         sub.Status,
		To:           next.Status,
		Published:    &published,
	}, set, nil
}

// nextState is the transition table. ok is false when the event is not
// allowed from the current status.
func nextState(sub *models.Subscription, ev Event) (models.SubscriptionStatus, Fields, bool) {
	var f Fields
	from := sub.Status

	switch ev.Kind {
	case EventActivated:
		switch from {
		case models.SubscriptionStatusIncomplete, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
			f.Plan = ev.Plan
			f.CurrentPeriodEnd = periodEnd(sub, ev)
			f.TrialEndsAt = ev.TrialEndsAt
			f.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
			f.ClearReminder = true
			return models.SubscriptionStatusActive, f, true
		case models.SubscriptionStatusActive:
			return renewal(sub, ev)
		}

	case EventTrialing:
		switch from {
		case models.SubscriptionStatusIncomplete, models.SubscriptionStatusTrialing:
			f.Plan = ev.Plan
			f.TrialEndsAt = ev.TrialEndsAt
			f.CurrentPeriodEnd = ev.CurrentPeriodEnd
			f.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
			return models.SubscriptionStatusTrialing, f, true
		}

	case EventRenewed:
		switch from {
		case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
			return renewal(sub, ev)
		}

	case EventPaymentFailed:
		if from == models.SubscriptionStatusActive {
			return models.SubscriptionStatusPastDue, f, true
		}

	case EventCanceled, EventSuspended:
		if from == models.SubscriptionStatusCanceled {
			return from, f, false
		}
		at := ev.ObservedAt
		if ev.CanceledAt != nil {
			at = *ev.CanceledAt
		}
		f.CanceledAt = &at
		f.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
		return models.SubscriptionStatusCanceled, f, true

	case EventAdminPause:
		if from == models.SubscriptionStatusActive {
			return models.SubscriptionStatusPaused, f, true
		}

	case EventAdminReactivate:
		if from == models.SubscriptionStatusPaused {
			if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.After(ev.ObservedAt) {
				end := periodEndFor(sub.Plan, ev.ObservedAt)
				f.CurrentPeriodEnd = &end
			}
			return models.SubscriptionStatusActive, f, true
		}
	}

	return from, f, false
}

// renewal moves the period end only. The reminder flag belongs to a period, so
// it is cleared when the period moves forward.
func renewal(sub *models.Subscription, ev Event) (models.SubscriptionStatus, Fields, bool) {
	f := Fields{Plan: ev.Plan}
	end := periodEnd(sub, ev)
	f.CurrentPeriodEnd = end
	if sub.CurrentPeriodEnd == nil || end.After(*sub.CurrentPeriodEnd) {
		f.ClearReminder = true
	}
	if ev.CancelAtPeriodEnd != nil {
		f.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	}
	return models.SubscriptionStatusActive, f, true
}

func periodEnd(sub *models.Subscription, ev Event) *time.Time {
	if ev.CurrentPeriodEnd != nil {
		end := *ev.CurrentPeriodEnd
		return &end
	}
	plan := sub.Plan
	if ev.Plan != "" {
		plan = ev.Plan
	}
	end := periodEndFor(plan, ev.ObservedAt)
	return &end
}
