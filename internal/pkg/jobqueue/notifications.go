package jobqueue

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
)

// Mailer delivers one message.
type Mailer interface {
	Send(to, subject, body string) error
}

// TenantDirectory resolves the billing contact of a tenant.
type TenantDirectory interface {
	GetByID(id uint) (*models.Tenant, error)
}

// Enqueuer is the part of Queue the notifier needs.
type Enqueuer interface {
	EnqueueJob(jobType JobType, payload map[string]interface{}) (*Job, error)
}

// BillingNotifier turns committed status changes into notification jobs.
// Enqueueing runs off the caller's goroutine; failures are logged and dropped.
type BillingNotifier struct {
	queue Enqueuer
	done  func()
}

func NewBillingNotifier(queue Enqueuer) *BillingNotifier {
	return &BillingNotifier{queue: queue}
}

func (n *BillingNotifier) SubscriptionChanged(_ context.Context, res billing.Result) {
	if res.Subscription == nil {
		return
	}
	payload := BillingNotificationJobPayload{
		TenantID:       res.Subscription.TenantID,
		SubscriptionID: res.Subscription.ID,
		From:           string(res.From),
		To:             string(res.To),
		Plan:           string(res.Subscription.Plan),
		PeriodEnd:      res.Subscription.CurrentPeriodEnd,
	}
	if res.Published != nil {
		payload.Published = *res.Published
	}

	go func() {
		if n.done != nil {
			defer n.done()
		}
		if _, err := n.queue.EnqueueJob(JobTypeBillingNotification, payload.ToMap()); err != nil {
			log.Warnf("[JobQueue] Dropped billing notification for tenant %d (%s -> %s): %v", payload.TenantID, payload.From, payload.To, err)
		}
	}()
}

// NotificationHandler mails the tenant's billing contact about a status change.
func NotificationHandler(tenants TenantDirectory, mailer Mailer) Handler {
	return func(_ context.Context, job *Job) error {
		p, err := BillingNotificationJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid notification payload: %w", err)
		}
		to, ok, err := billingContact(tenants, p.TenantID)
		if err != nil || !ok {
			return err
		}
		subject, body := notificationMessage(p)
		return mailer.Send(to, subject, body)
	}
}

// ReminderHandler mails the upcoming renewal notice.
func ReminderHandler(tenants TenantDirectory, mailer Mailer) Handler {
	return func(_ context.Context, job *Job) error {
		p, err := RenewalReminderJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid reminder payload: %w", err)
		}
		to, ok, err := billingContact(tenants, p.TenantID)
		if err != nil || !ok {
			return err
		}
		subject := "Your VenueFox subscription renews soon"
		body := fmt.Sprintf("Your %s plan renews on %s.\n\nNo action is needed to keep your listings published.\n",
			planLabel(p.Plan), p.PeriodEnd.Format("2 January 2006"))
		return mailer.Send(to, subject, body)
	}
}

func billingContact(tenants TenantDirectory, tenantID uint) (string, bool, error) {
	tenant, err := tenants.GetByID(tenantID)
	if err != nil {
		return "", false, fmt.Errorf("tenant %d: %w", tenantID, err)
	}
	if strings.TrimSpace(tenant.BillingEmail) == "" {
		log.Infof("[JobQueue] Tenant %d has no billing email, skipping mail", tenantID)
		return "", false, nil
	}
	return tenant.BillingEmail, true, nil
}

func notificationMessage(p *BillingNotificationJobPayload) (string, string) {
	var subject, lead string
	switch models.SubscriptionStatus(p.To) {
	case models.SubscriptionStatusActive:
		subject = "Your VenueFox subscription is active"
		lead = fmt.Sprintf("Your %s plan is active.", planLabel(p.Plan))
	case models.SubscriptionStatusPastDue:
		subject = "Payment failed for your VenueFox subscription"
		lead = "We could not collect your last payment. Please update your payment method."
	case models.SubscriptionStatusPaused:
		subject = "Your VenueFox subscription was paused"
		lead = "Your subscription was paused by our team."
	case models.SubscriptionStatusCanceled:
		subject = "Your VenueFox subscription was canceled"
		lead = "Your subscription has ended."
	default:
		subject = "Your VenueFox subscription changed"
		lead = fmt.Sprintf("Your subscription is now %s.", p.To)
	}

	visibility := "Your listings are not visible to visitors."
	if p.Published {
		visibility = "Your listings are visible to visitors."
	}
	body := lead + "\n\n" + visibility + "\n"
	if p.PeriodEnd != nil && p.Published {
		body += fmt.Sprintf("Current period ends on %s.\n", p.PeriodEnd.Format("2 January 2006"))
	}
	return subject, body
}

func planLabel(plan string) string {
	switch models.SubscriptionPlan(plan) {
	case models.PlanSixMonth:
		return "six-month"
	case models.PlanYearly:
		return "yearly"
	default:
		return "monthly"
	}
}
