package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyProposal   NotificationType = "proposal"
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyError      NotificationType = "error"
	NotifyInfo       NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Price     float64
	PnL       float64
	Timestamp time.Time
}

// Handle identifies a sent message at one provider so it can be edited later.
// Empty when the provider does not support editing.
type Handle string

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) (Handle, error)
	Edit(handle Handle, notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Ref names a sent message at a specific provider
type Ref struct {
	Provider string
	Handle   Handle
}

// Manager fans one notification out to every enabled provider
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a new notification manager
func NewManager(enabled bool) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		enabled:   enabled,
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers a notification to all enabled providers and returns the
// refs of the messages that were actually sent.
func (m *Manager) Send(notification *Notification) ([]Ref, error) {
	if !m.enabled {
		return nil, nil
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now().UTC()
	}

	var refs []Ref
	var lastErr error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		handle, err := n.Send(notification)
		if err != nil {
			lastErr = err
			continue
		}
		if handle != "" {
			refs = append(refs, Ref{Provider: n.Name(), Handle: handle})
		}
	}
	return refs, lastErr
}

// Edit rewrites previously sent messages in place
func (m *Manager) Edit(refs []Ref, notification *Notification) error {
	if !m.enabled || len(refs) == 0 {
		return nil
	}

	byProvider := make(map[string]Handle, len(refs))
	for _, ref := range refs {
		byProvider[ref.Provider] = ref.Handle
	}

	var lastErr error
	for _, n := range m.notifiers {
		handle, ok := byProvider[n.Name()]
		if !ok || !n.IsEnabled() {
			continue
		}
		if err := n.Edit(handle, notification); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		baseURL:  "https://api.telegram.org",
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send posts the message and returns the Telegram message id as the handle
func (t *TelegramNotifier) Send(notification *Notification) (Handle, error) {
	if !t.enabled {
		return "", nil
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       formatMarkdown(notification),
		"parse_mode": "Markdown",
	}

	var result struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := t.call("sendMessage", payload, &result); err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("telegram sendMessage was not ok")
	}
	return Handle(strconv.FormatInt(result.Result.MessageID, 10)), nil
}

// Edit rewrites a previously sent message via editMessageText
func (t *TelegramNotifier) Edit(handle Handle, notification *Notification) error {
	if !t.enabled || handle == "" {
		return nil
	}

	messageID, err := strconv.ParseInt(string(handle), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram message handle %q: %w", handle, err)
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"message_id": messageID,
		"text":       formatMarkdown(notification),
		"parse_mode": "Markdown",
	}
	return t.call("editMessageText", payload, nil)
}

func (t *TelegramNotifier) call(method string, payload map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to call telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram %s returned status %d", method, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode telegram %s response: %w", method, err)
		}
	}
	return nil
}

func formatMarkdown(n *Notification) string {
	return fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message)
}
