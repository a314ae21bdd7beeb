package notify

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/athlete-monitor/internal/config"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends messages as plain-text mail over SMTP.
type Email struct {
	cfg  config.EmailConfig
	send sendMailFunc
}

// NewEmail creates the channel.
func NewEmail(cfg config.EmailConfig) *Email {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg, send: smtp.SendMail}
}

// Name implements Notifier.
func (e *Email) Name() string { return "email" }

// Notify implements Notifier. net/smtp has no context support, so ctx is
// only checked before sending.
func (e *Email) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "email: context")
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := e.cfg.Host + ":" + strconv.Itoa(e.cfg.Port)
	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, e.render(msg)); err != nil {
		return eris.Wrap(err, "email: send")
	}
	return nil
}

func (e *Email) render(msg Message) []byte {
	subject := msg.Title
	if subject == "" {
		subject = "athlete-monitor " + string(msg.Kind)
	}
	date := msg.CreatedAt
	if date.IsZero() {
		date = time.Now().UTC()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Text, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
