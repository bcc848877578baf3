// Package alerting delivers the observability events named in spec §7 —
// divergence, insufficient balance, and intent state transitions — to
// an external channel, so the "Divergence log" box in the pipeline
// diagram has somewhere to go besides a log line.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"treasury-pipeline/internal/balancer"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/metrics"
	"treasury-pipeline/internal/storage"
)

// Notification carries one rendered alert's context.
type Notification struct {
	Kind      string
	TokenID   string
	RuleID    string
	Message   string
	Channels  []string
	EmittedAt time.Time
}

// Notifier delivers a Notification to an external channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram-backed Notifier.
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

// Notify implements Notifier by calling Telegram's sendMessage API. A
// Notification that names Channels but omits "telegram" is skipped:
// Notify logs it at debug level and returns nil without sending.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if !routesToTelegram(note.Channels) {
		n.logger.Debug().Str("kind", note.Kind).Strs("channels", note.Channels).Msg("skipping, not routed to telegram")
		return nil
	}

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
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram reported ok=false")
		}
	}

	n.logger.Info().Str("kind", note.Kind).Str("token_id", note.TokenID).Str("rule_id", note.RuleID).
		Strs("channels", note.Channels).Time("emitted_at", note.EmittedAt).Msg("alert delivered")
	return nil
}

// routesToTelegram reports whether an unset/empty Channels list (route
// everywhere) or an explicit "telegram" entry selects this Notifier.
func routesToTelegram(channels []string) bool {
	if len(channels) == 0 {
		return true
	}
	for _, c := range channels {
		if strings.EqualFold(c, "telegram") {
			return true
		}
	}
	return false
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[treasury-pipeline %s]\n", note.Kind))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.EmittedAt.UTC().Format(time.RFC3339)))
	if note.TokenID != "" {
		builder.WriteString(fmt.Sprintf("Token: %s\n", note.TokenID))
	}
	if note.RuleID != "" {
		builder.WriteString(fmt.Sprintf("Rule: %s\n", note.RuleID))
	}
	builder.WriteString(note.Message)
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

// Dispatcher fans observability events out to an underlying Notifier and
// an audit trail, and satisfies every observer interface the pipeline's
// stages need: aggregator.DivergenceObserver, balancer.Observer, and
// execution.Notifier. A nil Notifier makes delivery a safe log-only
// no-op; a nil AuditStore skips persistence the same way.
type Dispatcher struct {
	notifier Notifier
	audit    storage.AuditStore
	channels []string
	logger   zerolog.Logger

	// Metrics is optional; nil disables recording.
	Metrics *metrics.Recorder
}

// NewDispatcher constructs a Dispatcher. audit may be nil when no
// database is configured.
func NewDispatcher(notifier Notifier, audit storage.AuditStore, channels []string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, audit: audit, channels: channels, logger: logger.With().Str("component", "alert_dispatcher").Logger()}
}

// ObserveDivergence implements aggregator.DivergenceObserver.
func (d *Dispatcher) ObserveDivergence(tokenID string, q domain.Quote, chosen *big.Int, devBps *big.Int, cfg domain.TokenCfg) {
	now := time.Now().UTC()
	msg := fmt.Sprintf("source %s diverged %s bps from the chosen price (limit %d bps)", q.Source, devBps.String(), cfg.DeltaBps)
	d.send(Notification{Kind: "divergence", TokenID: tokenID, Message: msg, Channels: d.channels, EmittedAt: now})

	if d.audit != nil {
		rec := storage.DivergenceEventRecord{
			TokenID: tokenID, Source: string(q.Source), QuotedPrice: q.Price.String(), ChosenPrice: chosen.String(),
			DeviationBps: devBps.Int64(), ObservedAt: now,
		}
		if err := d.audit.InsertDivergenceEvent(context.Background(), rec); err != nil {
			d.logger.Warn().Err(err).Str("token_id", tokenID).Msg("failed to persist divergence event")
		}
	}
}

// ObserveInsufficientBalance implements balancer.Observer.
func (d *Dispatcher) ObserveInsufficientBalance(e balancer.InsufficientBalanceEvent) {
	now := time.Now().UTC()
	msg := fmt.Sprintf("rule would transfer %s units but balance is only %s units", e.ComputedUnits.String(), e.BalanceUnits.String())
	d.send(Notification{Kind: "insufficient_balance", RuleID: e.RuleID, Message: msg, Channels: d.channels, EmittedAt: now})

	if d.audit != nil {
		rec := storage.InsufficientBalanceEventRecord{
			RuleID: e.RuleID, ComputedUnits: e.ComputedUnits.String(), BalanceUnits: e.BalanceUnits.String(),
			ObservedAt: now,
		}
		if err := d.audit.InsertInsufficientBalanceEvent(context.Background(), rec); err != nil {
			d.logger.Warn().Err(err).Str("rule_id", e.RuleID).Msg("failed to persist insufficient balance event")
		}
	}
}

// NotifyIntentStatus implements execution.Notifier.
func (d *Dispatcher) NotifyIntentStatus(in domain.TransferIntent, previous domain.IntentStatus) {
	d.Metrics.RecordIntentStatus(in.RuleID, in.Status.String())

	msg := fmt.Sprintf("intent %s transitioned %s -> %s", in.IdemKey, previous, in.Status)
	if in.Status == domain.MinedFailed {
		msg = fmt.Sprintf("%s (%s)", msg, in.FailureNote)
	}
	d.send(Notification{Kind: "intent_status", RuleID: in.RuleID, TokenID: in.TokenID, Message: msg, Channels: d.channels, EmittedAt: time.Now().UTC()})
}

func (d *Dispatcher) send(note Notification) {
	if d.notifier == nil {
		d.logger.Info().Str("kind", note.Kind).Str("token_id", note.TokenID).Str("rule_id", note.RuleID).Msg(note.Message)
		return
	}
	if err := d.notifier.Notify(context.Background(), note); err != nil {
		d.logger.Warn().Err(err).Str("kind", note.Kind).Msg("failed to deliver alert")
	}
}
