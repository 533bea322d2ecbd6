package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const telegramAPI = "https://api.telegram.org"

// TelegramConfig holds bot settings
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// BaseURL overrides the Bot API endpoint
	BaseURL    string
	HTTPClient *http.Client
}

// Telegram posts events to a chat with sendMessage
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegram creates a Telegram sink
func NewTelegram(cfg TelegramConfig) *Telegram {
	base := cfg.BaseURL
	if base == "" {
		base = telegramAPI
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &Telegram{
		baseURL: strings.TrimSuffix(base, "/"),
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		client:  client,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, e domain.Event) error {
	return t.SendText(ctx, FormatHTML(e))
}

// SendText posts an HTML formatted message
func (t *Telegram) SendText(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.NewError(domain.KindExternalService, "telegram request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.NewError(domain.KindExternalService,
			fmt.Sprintf("telegram returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}
	return nil
}

var eventIcons = map[domain.EventType]string{
	domain.EventAccountCreated:          "🆕",
	domain.EventAccountVerified:         "✅",
	domain.EventAccountWarmingStarted:   "🔥",
	domain.EventAccountWarmingCompleted: "✅",
	domain.EventAccountWarmingFailed:    "❌",
	domain.EventAccountPasswordChanged:  "🔑",
	domain.EventAccountDeleted:          "🗑",
	domain.EventAccountStatusChanged:    "⚠️",
	domain.EventVideoUploadStarted:      "⏫",
	domain.EventVideoUploadCompleted:    "🎬",
	domain.EventVideoUploadFailed:       "❌",
	domain.EventVideoPublished:          "📢",
	domain.EventCaptchaSolved:           "🧩",
	domain.EventCaptchaFailed:           "❌",
	domain.EventProxyHealthChecked:      "🌐",
}

// FormatHTML renders e as a Telegram HTML message
func FormatHTML(e domain.Event) string {
	var b strings.Builder

	icon, ok := eventIcons[e.Type]
	if !ok {
		icon = "ℹ️"
	}

	title := e.Subject
	if title == "" {
		title = string(e.Type)
	}
	fmt.Fprintf(&b, "%s <b>%s</b>\n", icon, html.EscapeString(title))
	fmt.Fprintf(&b, "<i>%s</i>\n", html.EscapeString(string(e.Type)))

	if e.Message != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(e.Message))
		b.WriteString("\n")
	}

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "<b>%s:</b> <code>%s</code>\n", html.EscapeString(k), html.EscapeString(fmt.Sprint(e.Fields[k])))
		}
	}

	fmt.Fprintf(&b, "\n⏰ %s", e.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
