package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/athlete-monitor/internal/config"
)

// telegramMaxRunes is the Bot API limit for one message.
const telegramMaxRunes = 4096

// Telegram posts messages through a bot to one chat.
type Telegram struct {
	client  *retryablehttp.Client
	baseURL string
	token   string
	chatID  string
}

// NewTelegram creates the channel.
func NewTelegram(cfg config.TelegramConfig) *Telegram {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &Telegram{
		client:  newHTTPClient(),
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
	}
}

// Name implements Notifier.
func (t *Telegram) Name() string { return "telegram" }

// Notify implements Notifier.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	text := msg.Text
	if msg.Title != "" {
		text = msg.Title + "\n\n" + text
	}
	if utf8.RuneCountInString(text) > telegramMaxRunes {
		text = string([]rune(text)[:telegramMaxRunes-1]) + "…"
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return eris.Wrap(err, "telegram: marshal message")
	}

	url := t.baseURL + "/bot" + t.token + "/sendMessage"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "telegram: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The client error carries the URL, which embeds the token.
		return eris.New("telegram: send message failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return eris.Wrap(err, "telegram: read response")
	}
	if resp.StatusCode >= 400 || !gjson.GetBytes(body, "ok").Bool() {
		return eris.Errorf("telegram: status %d: %s", resp.StatusCode, gjson.GetBytes(body, "description").String())
	}
	return nil
}
