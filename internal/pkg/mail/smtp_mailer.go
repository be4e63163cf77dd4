package mail

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VenueFox/internal/pkg/env"
)

var ErrNotConfigured = errors.New("mail: SMTP_HOST not set")

// SMTPMailer sends plain text mail via SMTP
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailerFromEnv reads SMTP_HOST, SMTP_PORT, SMTP_USERNAME,
// SMTP_PASSWORD and SMTP_SENDER.
func NewSMTPMailerFromEnv() *SMTPMailer {
	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = "no-reply@localhost"
	}
	return &SMTPMailer{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   sender,
		send:     smtp.SendMail,
	}
}

// Send delivers one message.
func (m *SMTPMailer) Send(to, subject, body string) error {
	if m.Host == "" {
		return ErrNotConfigured
	}
	if strings.ContainsAny(to+subject, "\r\n") {
		return fmt.Errorf("mail: header injection in recipient or subject")
	}

	var auth smtp.Auth
	if m.Username != "" && m.Password != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.Host, m.Port)
	send := m.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, m.Sender, []string{to}, compose(m.Sender, to, subject, body)); err != nil {
		log.Errorf("[Mail] SMTP send to %s failed: %v", to, err)
		return err
	}
	log.Infof("[Mail] Sent %q to %s via %s", subject, to, addr)
	return nil
}

func compose(from, to, subject, body string) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			body,
	)
}
