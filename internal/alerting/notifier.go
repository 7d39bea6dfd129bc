package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"silver-stress-tracker/internal/stress"
)

// MetricLine is one indicator as shown in an alert.
type MetricLine struct {
	Name  string
	Color stress.Color
	Label string
	Value float64
	Unit  string
}

// Notification describes a change of the composite status.
type Notification struct {
	At            time.Time
	PreviousColor stress.Color
	Composite     stress.CompositeScore
	Metrics       []MetricLine
	SpotPrice     *float64
	Channels      []string
	AdditionalMsg string
}

// Escalated reports whether the composite moved toward stress.
func (n Notification) Escalated() bool {
	if n.PreviousColor == "" {
		return false
	}
	return n.Composite.StatusColor.Severity() > n.PreviousColor.Severity()
}

// Eased reports whether the composite moved away from stress.
func (n Notification) Eased() bool {
	if n.PreviousColor == "" {
		return false
	}
	return n.Composite.StatusColor.Severity() < n.PreviousColor.Severity()
}

func (n Notification) headline() string {
	switch {
	case n.Escalated():
		return "Stress escalated"
	case n.Eased():
		return "Stress eased"
	default:
		return "Status update"
	}
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false: %s", result.Description)
		}
	}

	n.logger.Info().Time("at", note.At).
		Str("from", string(note.PreviousColor)).
		Str("to", string(note.Composite.StatusColor)).
		Bool("escalated", note.Escalated()).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert sent (telegram)")
	return nil
}

var colorMarks = map[stress.Color]string{
	stress.Green:  "🟢",
	stress.Yellow: "🟡",
	stress.Orange: "🟠",
	stress.Red:    "🔴",
	stress.Gray:   "⚪",
}

func mark(c stress.Color) string {
	if m, ok := colorMarks[c]; ok {
		return m
	}
	return colorMarks[stress.Gray]
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Silver Market Stress] %s\n", note.headline()))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))

	from := string(note.PreviousColor)
	if from == "" {
		from = "none"
	}
	builder.WriteString(fmt.Sprintf("Composite: %s -> %s %s %s (%s)\n",
		from, mark(note.Composite.StatusColor), note.Composite.StatusColor, note.Composite.StatusLabel, note.Composite.Description))
	if note.SpotPrice != nil {
		builder.WriteString(fmt.Sprintf("Spot: $%.2f/oz\n", *note.SpotPrice))
	}
	for _, m := range note.Metrics {
		builder.WriteString(fmt.Sprintf("%s %s: %.2f %s (%s)\n", mark(m.Color), m.Name, m.Value, m.Unit, m.Label))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
