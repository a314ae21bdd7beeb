// Package notify delivers scan summaries, alerts and digests to optional
// outbound channels. Delivery is best-effort: failures are logged and never
// fail the caller's work.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/config"
)

// Kind identifies what a message reports.
type Kind string

const (
	KindScan   Kind = "scan"
	KindDigest Kind = "digest"
	KindWeekly Kind = "weekly"
)

// Message is one outbound notification.
type Message struct {
	Kind      Kind           `json:"kind"`
	SubjectID string         `json:"subject_id,omitempty"`
	Title     string         `json:"title"`
	Text      string         `json:"text"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier sends a message to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// Multi fans a message out to every channel. It only errors when every
// channel failed.
type Multi []Notifier

// Name implements Notifier.
func (m Multi) Name() string { return "multi" }

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	if len(m) == 0 {
		return nil
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			zap.L().Warn("notify: delivery failed",
				zap.String("channel", n.Name()),
				zap.String("kind", string(msg.Kind)),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		zap.L().Debug("notify: delivered",
			zap.String("channel", n.Name()),
			zap.String("kind", string(msg.Kind)),
		)
	}
	if len(errs) == len(m) {
		return eris.Wrap(errors.Join(errs...), "notify: all channels failed")
	}
	return nil
}

// FromConfig returns the channels that have enough configuration to send.
func FromConfig(cfg config.NotifyConfig) Multi {
	var m Multi
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		m = append(m, NewTelegram(cfg.Telegram))
	}
	if cfg.Webhook.URL != "" {
		m = append(m, NewWebhook(cfg.Webhook.URL))
	}
	if cfg.Email.Host != "" && cfg.Email.From != "" && len(cfg.Email.To) > 0 {
		m = append(m, NewEmail(cfg.Email))
	}
	return m
}

// newHTTPClient returns a retrying client that logs through zap.
func newHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = zapLogger{zap.S().Named("notify")}
	return c
}

// zapLogger adapts a sugared logger to retryablehttp.LeveledLogger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l zapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l zapLogger) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l zapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
