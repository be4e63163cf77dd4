package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	Env = map[string]string{"LEDGER_BACKEND": "redis"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("APP_PORT", "4100")

	assert.Equal(t, "redis", GetEnv("LEDGER_BACKEND", "db"))
	assert.Equal(t, "4100", GetEnv("APP_PORT", "4000"))
	assert.Equal(t, "fallback", GetEnv("VENUEFOX_UNSET_KEY", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	Env = map[string]string{
		"REMINDER_LEAD_DAYS":    "14",
		"LEDGER_RETENTION_DAYS": "ninety",
		"JOBQUEUE_WORKERS":      " 5 ",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 14, GetEnvInt("REMINDER_LEAD_DAYS", 7))
	assert.Equal(t, 90, GetEnvInt("LEDGER_RETENTION_DAYS", 90))
	assert.Equal(t, 5, GetEnvInt("JOBQUEUE_WORKERS", 3))
	assert.Equal(t, 10, GetEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10))
}

func TestIsDev(t *testing.T) {
	Env = map[string]string{"APP_ENV": "dev"}
	t.Cleanup(func() { Env = nil })
	assert.True(t, IsDev())

	Env = map[string]string{"APP_ENV": "prod"}
	assert.False(t, IsDev())
}
