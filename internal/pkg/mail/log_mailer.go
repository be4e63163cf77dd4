package mail

import (
	"github.com/gofiber/fiber/v2/log"
)

// Sender is anything that can deliver a plain text message.
type Sender interface {
	Send(to, subject, body string) error
}

// LogMailer only logs. Used when SMTP_HOST is unset so notification jobs
// still complete in development.
type LogMailer struct{}

func (LogMailer) Send(to, subject, _ string) error {
	log.Infof("[Mail] SMTP not configured, not sending %q to %s", subject, to)
	return nil
}

// NewSenderFromEnv returns the SMTP mailer when SMTP_HOST is set, else a LogMailer.
func NewSenderFromEnv() Sender {
	m := NewSMTPMailerFromEnv()
	if m.Host == "" {
		return LogMailer{}
	}
	return m
}
