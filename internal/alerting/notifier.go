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
	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/portfolio"
	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/storage"
)

// Notification 封装告警上下文。
type Notification struct {
	Trigger  storage.Trigger
	Alert    portfolio.Alert
	Mortgage portfolio.Mortgage
	Term     rates.Term
	// PotentialPayment is set for payment alerts.
	PotentialPayment *decimal.Decimal
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
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

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int64("alert_id", note.Alert.ID).
		Str("trigger_id", note.Trigger.ID.String()).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Refinance Alert]\n")
	builder.WriteString(fmt.Sprintf("Alert: #%d (%s)\n", note.Alert.ID, note.Alert.Kind))
	builder.WriteString(fmt.Sprintf("Fired: %s UTC\n", note.Trigger.FiredAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Rate: %s%% (%d-year fixed)\n", note.Trigger.RateAtTrigger.Shift(2).StringFixed(3), note.Term.Years()))
	switch note.Alert.Kind {
	case portfolio.KindRate:
		if note.Alert.TargetRate != nil {
			builder.WriteString(fmt.Sprintf("Target: %s%%\n", note.Alert.TargetRate.Shift(2).StringFixed(3)))
		}
	case portfolio.KindPayment:
		if note.PotentialPayment != nil {
			builder.WriteString(fmt.Sprintf("Payment: $%s/mo\n", note.PotentialPayment.StringFixed(2)))
		}
		if note.Alert.TargetPayment != nil {
			builder.WriteString(fmt.Sprintf("Target: $%s/mo\n", note.Alert.TargetPayment.StringFixed(2)))
		}
	}
	if !note.Mortgage.RemainingPrincipal.IsZero() {
		builder.WriteString(fmt.Sprintf("Balance: $%s\n", note.Mortgage.RemainingPrincipal.StringFixed(2)))
	}
	builder.WriteString(note.Trigger.Reason)
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
