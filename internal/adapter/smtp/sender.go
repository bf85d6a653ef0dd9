// Package smtp delivers alert emails through an SMTP relay.
package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/config"
	"github.com/couchcryptid/storm-impact-alerts/internal/dispatch"
	"github.com/google/uuid"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Sender implements dispatch.Sender for the email channel.
type Sender struct {
	cfg      config.SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
	logger   *slog.Logger
}

// NewSender creates an SMTP sender.
func NewSender(cfg config.SMTPConfig, logger *slog.Logger) *Sender {
	return &Sender{cfg: cfg, sendMail: smtp.SendMail, now: time.Now, logger: logger}
}

// Send relays msg and returns the generated Message-ID. The relay call itself
// does not honor ctx; a cancelled ctx only prevents the attempt.
func (s *Sender) Send(ctx context.Context, msg dispatch.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.cfg.Host)
	body := s.compose(msg, messageID)

	if err := s.sendMail(s.cfg.Addr(), auth, s.cfg.From, []string{msg.To}, body); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	s.logger.Debug("email relayed", "alert_id", msg.AlertID, "message_id", messageID)
	return messageID, nil
}

func (s *Sender) compose(msg dispatch.Message, messageID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
