package controllers

import (
	"context"
	"errors"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/app/repository"
	"github.com/ManuelReschke/VenueFox/internal/pkg/audit"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/VenueFox/internal/pkg/middleware"
	"github.com/ManuelReschke/VenueFox/internal/pkg/overrides"
	"github.com/ManuelReschke/VenueFox/internal/pkg/usercontext"
)

// QueueStats is the read side of the job queue shown to operators.
type QueueStats interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// AdminController handles operator requests using repository pattern
type AdminController struct {
	repos   *repository.Repositories
	channel *overrides.Channel
	store   billing.Store
	queue   QueueStats
}

// NewAdminController creates a new admin controller. queue may be nil.
func NewAdminController(repos *repository.Repositories, channel *overrides.Channel, store billing.Store, queue QueueStats) *AdminController {
	return &AdminController{
		repos:   repos,
		channel: channel,
		store:   store,
		queue:   queue,
	}
}

// HandleTenants lists tenants with pagination
func (ac *AdminController) HandleTenants(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	tenants, err := ac.repos.Tenant.List(offset, limit)
	if err != nil {
		return ac.handleError(c, "Failed to list tenants", err)
	}
	return c.JSON(fiber.Map{"tenants": tenants, "offset": offset, "limit": limit})
}

// HandleEntitlements returns a tenant's subscription, overrides and
// resolved capabilities.
func (ac *AdminController) HandleEntitlements(c *fiber.Ctx) error {
	tenant, ok, err := ac.loadTenant(c)
	if !ok {
		return err
	}
	set, sub, ov, err := billing.Resolve(c.UserContext(), ac.store, tenant.ID)
	if err != nil {
		return ac.handleError(c, "Failed to resolve entitlements", err)
	}
	return c.JSON(fiber.Map{
		"tenant":       tenant,
		"subscription": sub,
		"overrides":    ov,
		"entitlements": set,
	})
}

// HandleSetOverride writes one override and its audit record.
func (ac *AdminController) HandleSetOverride(c *fiber.Ctx) error {
	tenant, ok, err := ac.loadTenant(c)
	if !ok {
		return err
	}
	var req overrides.Request
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	outcome, err := ac.channel.GrantOverride(c.UserContext(), usercontext.Actor(c), tenant.ID, req)
	if err != nil {
		return ac.writeChannelError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "entitlements": outcome.Entitlements, "audit_id": outcome.AuditID})
}

// HandlePause suspends the tenant's subscription.
func (ac *AdminController) HandlePause(c *fiber.Ctx) error {
	return ac.subscriptionAction(c, ac.channel.Pause)
}

// HandleReactivate resumes a paused subscription.
func (ac *AdminController) HandleReactivate(c *fiber.Ctx) error {
	return ac.subscriptionAction(c, ac.channel.Reactivate)
}

func (ac *AdminController) subscriptionAction(c *fiber.Ctx, action func(ctx context.Context, actor string, tenantID uint) (overrides.Outcome, error)) error {
	tenant, ok, err := ac.loadTenant(c)
	if !ok {
		return err
	}
	outcome, err := action(c.UserContext(), usercontext.Actor(c), tenant.ID)
	if err != nil {
		return ac.writeChannelError(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":           true,
		"subscription": outcome.Subscription,
		"entitlements": outcome.Entitlements,
		"audit_id":     outcome.AuditID,
	})
}

type auditView struct {
	ID         string          `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   uint            `json:"entity_id"`
	Before     *audit.Snapshot `json:"before"`
	After      *audit.Snapshot `json:"after"`
	CreatedAt  interface{}     `json:"created_at"`
}

// HandleAuditLog lists override and subscription audit records of a tenant,
// newest first.
func (ac *AdminController) HandleAuditLog(c *fiber.Ctx) error {
	tenant, ok, err := ac.loadTenant(c)
	if !ok {
		return err
	}
	limit := c.QueryInt("limit", 50)

	records, err := ac.repos.Audit.ListByEntity(models.AuditEntityOverride, tenant.ID, limit)
	if err != nil {
		return ac.handleError(c, "Failed to load audit records", err)
	}
	sub, err := ac.store.Get(c.UserContext(), tenant.ID)
	switch {
	case err == nil:
		subRecords, err := ac.repos.Audit.ListByEntity(models.AuditEntitySubscription, sub.ID, limit)
		if err != nil {
			return ac.handleError(c, "Failed to load audit records", err)
		}
		records = append(records, subRecords...)
	case !errors.Is(err, billing.ErrNotFound):
		return ac.handleError(c, "Failed to load subscription", err)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	views := make([]auditView, 0, len(records))
	for _, r := range records {
		v := auditView{ID: r.ID, Actor: r.Actor, Action: r.Action, EntityType: r.EntityType, EntityID: r.EntityID, CreatedAt: formatTimePtr(&r.CreatedAt)}
		if v.Before, err = audit.Decode(r.Before); err != nil {
			log.Warnf("[Overrides] Audit record %s has an unreadable before snapshot: %v", r.ID, err)
		}
		if v.After, err = audit.Decode(r.After); err != nil {
			log.Warnf("[Overrides] Audit record %s has an unreadable after snapshot: %v", r.ID, err)
		}
		views = append(views, v)
	}
	return c.JSON(fiber.Map{"tenant_id": tenant.ID, "records": views})
}

// HandleQueueStats reports the notification queue state.
func (ac *AdminController) HandleQueueStats(c *fiber.Ctx) error {
	if ac.queue == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Job queue is not running")
	}
	ctx := c.UserContext()
	stats, err := ac.queue.GetJobStats(ctx)
	if err != nil {
		return ac.handleError(c, "Failed to load queue statistics", err)
	}
	pending, err := ac.queue.GetQueueSize(ctx)
	if err != nil {
		return ac.handleError(c, "Failed to load queue size", err)
	}
	processing, err := ac.queue.GetProcessingSize(ctx)
	if err != nil {
		return ac.handleError(c, "Failed to load queue size", err)
	}
	return c.JSON(fiber.Map{"stats": stats, "queued": pending, "processing": processing})
}

// loadTenant resolves the route's tenant. When ok is false the response has
// been written and err is what the handler must return.
func (ac *AdminController) loadTenant(c *fiber.Ctx) (*models.Tenant, bool, error) {
	tenantID, ok := parseIDParam(c, middleware.TenantParam)
	if !ok {
		return nil, false, jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid tenant id")
	}
	tenant, err := ac.repos.Tenant.GetByID(tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, jsonError(c, fiber.StatusNotFound, "not_found", "Tenant not found")
	}
	if err != nil {
		return nil, false, ac.handleError(c, "Failed to load tenant", err)
	}
	return tenant, true, nil
}

func (ac *AdminController) writeChannelError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, overrides.ErrInvalidOverride):
		return jsonError(c, fiber.StatusUnprocessableEntity, "invalid_override", err.Error())
	case errors.Is(err, audit.ErrMissingActor):
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Operator identity required")
	case errors.Is(err, billing.ErrNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Tenant has no subscription")
	case errors.Is(err, billing.ErrInvalidTransition):
		return jsonError(c, fiber.StatusConflict, "invalid_transition", "Not allowed from the current subscription status")
	case errors.Is(err, billing.ErrConflict):
		return jsonError(c, fiber.StatusConflict, "conflict", "Subscription changed concurrently, retry")
	case errors.Is(err, audit.ErrAuditWriteFailed):
		return ac.handleError(c, "Audit write failed, nothing was changed", err)
	default:
		return ac.handleError(c, "Operator write failed", err)
	}
}

// handleError is a helper method for consistent error handling
func (ac *AdminController) handleError(c *fiber.Ctx, message string, err error) error {
	log.Errorf("[Overrides] %s: %v", message, err)
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", message)
}
