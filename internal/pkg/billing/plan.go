package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// ParsePlan maps user input onto a plan.
func ParsePlan(raw string) (models.SubscriptionPlan, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(models.PlanMonthly), "month":
		return models.PlanMonthly, true
	case string(models.PlanSixMonth), "six_months", "semiannual":
		return models.PlanSixMonth, true
	case string(models.PlanYearly), "year", "annual":
		return models.PlanYearly, true
	default:
		return "", false
	}
}

func planMonths(plan models.SubscriptionPlan) int {
	switch plan {
	case models.PlanYearly:
		return 12
	case models.PlanSixMonth:
		return 6
	default:
		return 1
	}
}

// periodEndFor derives a period end when the processor did not send one.
func periodEndFor(plan models.SubscriptionPlan, from time.Time) time.Time {
	return from.AddDate(0, planMonths(plan), 0)
}

// isLive reports statuses that block a new checkout.
func isLive(status models.SubscriptionStatus) bool {
	switch status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue, models.SubscriptionStatusTrialing, models.SubscriptionStatusPaused:
		return true
	default:
		return false
	}
}
