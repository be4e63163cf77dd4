package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/entitlements"
)

// Service holds the tenant-facing billing actions: checkout, cancel and boost
// credit consumption. Status changes still arrive through the gateway.
type Service struct {
	store     Store
	processor Processor
}

// NewService creates a billing service. processor may be nil, in which case
// checkout and cancel fail with ErrProcessorUnavailable.
func NewService(store Store, processor Processor) *Service {
	return &Service{store: store, processor: processor}
}

// Resolve reads the tenant's current subscription and overrides and resolves
// the capability set. It never writes.
func Resolve(ctx context.Context, store Store, tenantID uint) (entitlements.Set, *models.Subscription, *models.EntitlementOverride, error) {
	sub, err := store.Get(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		sub = nil
	} else if err != nil {
		return entitlements.Set{}, nil, nil, err
	}
	ov, err := store.GetOverrides(ctx, tenantID)
	if err != nil {
		return entitlements.Set{}, nil, nil, err
	}
	return entitlements.Resolve(sub, ov), sub, ov, nil
}

// Entitlements resolves the tenant's capability set.
func (s *Service) Entitlements(ctx context.Context, tenantID uint) (entitlements.Set, *models.Subscription, error) {
	set, sub, _, err := Resolve(ctx, s.store, tenantID)
	return set, sub, err
}

// Checkout creates or restarts the tenant's subscription in incomplete status
// and opens it at the processor. The processor's events activate it later.
func (s *Service) Checkout(ctx context.Context, tenantID uint, email string, plan models.SubscriptionPlan) (*models.Subscription, error) {
	if s.processor == nil {
		return nil, ErrProcessorUnavailable
	}

	current, err := s.store.Get(ctx, tenantID)
	switch {
	case err == nil && isLive(current.Status):
		return current, ErrAlreadySubscribed
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if _, err := s.store.Upsert(ctx, tenantID, UpsertFields{Plan: plan, Restart: true}); err != nil {
		return nil, fmt.Errorf("prepare subscription: %w", err)
	}

	ref, err := s.processor.CreateSubscription(ctx, tenantID, email, plan)
	if err != nil {
		return nil, err
	}

	sub, err := s.store.Upsert(ctx, tenantID, UpsertFields{ExternalRef: &ref})
	if err != nil {
		return nil, fmt.Errorf("link subscription %s: %w", ref, err)
	}
	log.Infof("[Billing] Tenant %d started %s checkout as %s", tenantID, plan, ref)
	return sub, nil
}

// Cancel asks the processor to cancel; the deleted event unpublishes.
func (s *Service) Cancel(ctx context.Context, tenantID uint) (*models.Subscription, error) {
	if s.processor == nil {
		return nil, ErrProcessorUnavailable
	}
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Ref() == "" || sub.Status == models.SubscriptionStatusCanceled {
		return sub, ErrInvalidTransition
	}
	if err := s.processor.CancelSubscription(ctx, sub.Ref()); err != nil {
		return sub, err
	}
	log.Infof("[Billing] Tenant %d requested cancellation of %s", tenantID, sub.Ref())
	return sub, nil
}

// ConsumeBoostCredit takes one credit off the tenant's balance and returns
// what is left. Only the balance column is written.
func (s *Service) ConsumeBoostCredit(ctx context.Context, tenantID uint) (int64, error) {
	var remaining int64
	err := s.store.Atomically(ctx, func(tx Tx) error {
		var err error
		remaining, err = tx.ConsumeBoostCredit(tenantID)
		return err
	})
	return remaining, err
}
