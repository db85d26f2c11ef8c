// Package smtp delivers the email half of out-of-band alert dispatch.
package smtp

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/go-broker-agent/internal/config"
)

// Mailer sends plain-text emails. High-priority notifications are mirrored
// here so an invalid broker token is noticed even with every client closed.
type Mailer interface {
	SendEmail(to, subject, body string) error
}

type mailer struct {
	addr string
	host string
	from string
	auth smtp.Auth
}

func NewMailer(cfg *config.Config) Mailer {
	m := &mailer{
		addr: cfg.SMTPHost + ":" + cfg.SMTPPort,
		host: cfg.SMTPHost,
		from: cfg.SMTPFrom,
	}
	if cfg.SMTPUsername != "" {
		m.auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return m
}

func (m *mailer) SendEmail(to, subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	return smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg.String()))
}
