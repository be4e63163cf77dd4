package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/middleware"
)

const stripeSignatureHeader = "Stripe-Signature"

// BillingController serves the processor webhook and the tenant's own
// checkout and cancel calls.
type BillingController struct {
	gateway  *billing.Gateway
	service  *billing.Service
	validate *validator.Validate
}

func NewBillingController(gateway *billing.Gateway, service *billing.Service) *BillingController {
	return &BillingController{gateway: gateway, service: service, validate: validator.New()}
}

// CheckoutRequest opens a subscription at the processor.
type CheckoutRequest struct {
	Plan  string `json:"plan" validate:"required,oneof=monthly six_month yearly"`
	Email string `json:"email" validate:"omitempty,email,max=200"`
}

// HandleStripeWebhook acknowledges every accepted delivery with 200. Rejected
// signatures get 401, unparseable payloads 400, and anything that should be
// redelivered 500.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(stripeSignatureHeader))

	outcome, err := bc.gateway.Receive(c.UserContext(), rawBody, signature)
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	case errors.Is(err, billing.ErrMalformedEvent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	resp := fiber.Map{"ok": true, "outcome": outcome}
	if outcome == billing.OutcomeDuplicate {
		resp["duplicate"] = true
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// HandleCheckout starts a checkout for the tenant. The processor's events
// activate the subscription later.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	tenantID, ok := parseIDParam(c, middleware.TenantParam)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid tenant id")
	}

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	req.Plan = strings.ToLower(strings.TrimSpace(req.Plan))
	req.Email = strings.TrimSpace(req.Email)
	if err := bc.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}
	if req.Email == "" {
		if d, ok := middleware.Decision(c); ok && d.Tenant != nil {
			req.Email = d.Tenant.BillingEmail
		}
	}

	sub, err := bc.service.Checkout(c.UserContext(), tenantID, req.Email, models.SubscriptionPlan(req.Plan))
	switch {
	case errors.Is(err, billing.ErrAlreadySubscribed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_subscribed", "message": "Tenant already has a live subscription", "subscription": sub})
	case errors.Is(err, billing.ErrProcessorUnavailable):
		return jsonError(c, fiber.StatusServiceUnavailable, "processor_unavailable", "Payments are not configured")
	case errors.Is(err, billing.ErrExternalRefTaken):
		return jsonError(c, fiber.StatusConflict, "conflict", "Processor reference already linked")
	case err != nil:
		log.Errorf("[Billing] Checkout for tenant %d failed: %v", tenantID, err)
		return jsonError(c, fiber.StatusInternalServerError, "checkout_failed", "Checkout could not be started")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"ok":           true,
		"external_ref": sub.Ref(),
		"subscription": sub,
	})
}

// HandleCancel asks the processor to cancel. The resulting webhook unpublishes.
func (bc *BillingController) HandleCancel(c *fiber.Ctx) error {
	tenantID, ok := parseIDParam(c, middleware.TenantParam)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid tenant id")
	}

	sub, err := bc.service.Cancel(c.UserContext(), tenantID)
	switch {
	case errors.Is(err, billing.ErrNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "No subscription")
	case errors.Is(err, billing.ErrInvalidTransition):
		return jsonError(c, fiber.StatusConflict, "invalid_transition", "Subscription cannot be canceled")
	case errors.Is(err, billing.ErrProcessorUnavailable):
		return jsonError(c, fiber.StatusServiceUnavailable, "processor_unavailable", "Payments are not configured")
	case err != nil:
		log.Errorf("[Billing] Cancel for tenant %d failed: %v", tenantID, err)
		return jsonError(c, fiber.StatusInternalServerError, "cancel_failed", "Cancellation could not be requested")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"ok":           true,
		"message":      "Cancellation requested",
		"subscription": sub,
	})
}
