package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeBillingNotification JobType = "billing_notification"
	JobTypeRenewalReminder     JobType = "renewal_reminder"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// BillingNotificationJobPayload tells a tenant about a committed status change
type BillingNotificationJobPayload struct {
	TenantID       uint       `json:"tenant_id"`
	SubscriptionID uint       `json:"subscription_id"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Plan           string     `json:"plan"`
	Published      bool       `json:"published"`
	PeriodEnd      *time.Time `json:"period_end,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p BillingNotificationJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"tenant_id":       p.TenantID,
		"subscription_id": p.SubscriptionID,
		"from":            p.From,
		"to":              p.To,
		"plan":            p.Plan,
		"published":       p.Published,
	}
	if p.PeriodEnd != nil {
		m["period_end"] = p.PeriodEnd.UTC().Format(time.RFC3339)
	}
	return m
}

// BillingNotificationJobPayloadFromMap creates a payload from a map
func BillingNotificationJobPayloadFromMap(data map[string]interface{}) (*BillingNotificationJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload BillingNotificationJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// RenewalReminderJobPayload announces an upcoming renewal
type RenewalReminderJobPayload struct {
	TenantID       uint      `json:"tenant_id"`
	SubscriptionID uint      `json:"subscription_id"`
	Plan           string    `json:"plan"`
	PeriodEnd      time.Time `json:"period_end"`
}

func (p RenewalReminderJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":       p.TenantID,
		"subscription_id": p.SubscriptionID,
		"plan":            p.Plan,
		"period_end":      p.PeriodEnd.UTC().Format(time.RFC3339),
	}
}

func RenewalReminderJobPayloadFromMap(data map[string]interface{}) (*RenewalReminderJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload RenewalReminderJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
