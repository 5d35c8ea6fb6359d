// Package alert delivers anomaly notifications to Slack and generic
// HMAC-signed webhooks. Delivery is rate limited per source so one noisy
// attacker cannot flood the channel.
package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var alertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "logshield_alerts_total",
	Help: "Alert deliveries by channel and status",
}, []string{"channel", "status"})

func init() {
	_ = prometheus.Register(alertsSent)
}

// Config controls alert delivery.
type Config struct {
	SlackWebhookURL string        `yaml:"slack_webhook_url"`
	SlackChannel    string        `yaml:"slack_channel"`
	WebhookURL      string        `yaml:"webhook_url"`
	WebhookSecret   string        `yaml:"webhook_secret"`
	Cooldown        time.Duration `yaml:"cooldown"`
	MaxPerHour      int           `yaml:"max_per_hour"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

func (c *Config) setDefaults() {
	if c.SlackChannel == "" {
		c.SlackChannel = "#security-alerts"
	}
	if c.Cooldown == 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.MaxPerHour == 0 {
		c.MaxPerHour = 100
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

// Notification is the payload sent to every configured channel.
type Notification struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip"`
	Username  string    `json:"username,omitempty"`
	EventType string    `json:"event_type"`
	RiskScore float64   `json:"risk_score"`
	RiskLevel string    `json:"risk_level"`
	Action    string    `json:"recommended_action"`
	Reasons   []string  `json:"reasons"`
}

// Notifier fans notifications out to the configured channels.
type Notifier struct {
	cfg    Config
	client *resty.Client
	log    zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time // per source IP
	hourMark time.Time
	hourSent int
}

// NewNotifier builds a notifier. Channels with empty URLs are skipped at
// send time, so a zero config is a valid no-op notifier.
func NewNotifier(cfg Config) *Notifier {
	cfg.setDefaults()
	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Notifier{
		cfg:      cfg,
		client:   client,
		log:      log.With().Str("component", "alert").Logger(),
		lastSent: make(map[string]time.Time),
		hourMark: time.Now().UTC().Truncate(time.Hour),
	}
}

// Notify delivers n to all configured channels unless rate limiting
// suppresses it. Suppression is not an error.
func (n *Notifier) Notify(ctx context.Context, note *Notification) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now().UTC()
	}

	if !n.allow(note.SourceIP, time.Now().UTC()) {
		alertsSent.WithLabelValues("all", "suppressed").Inc()
		n.log.Debug().Str("source_ip", note.SourceIP).Msg("alert suppressed by rate limit")
		return nil
	}

	var firstErr error
	if n.cfg.SlackWebhookURL != "" {
		if err := n.sendSlack(ctx, note); err != nil {
			firstErr = err
		}
	}
	if n.cfg.WebhookURL != "" {
		if err := n.sendWebhook(ctx, note); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// allow applies the per-source cooldown and the global hourly cap.
func (n *Notifier) allow(sourceIP string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	hour := now.Truncate(time.Hour)
	if hour.After(n.hourMark) {
		n.hourMark = hour
		n.hourSent = 0
	}
	if n.hourSent >= n.cfg.MaxPerHour {
		return false
	}
	if last, ok := n.lastSent[sourceIP]; ok && now.Sub(last) < n.cfg.Cooldown {
		return false
	}
	n.lastSent[sourceIP] = now
	n.hourSent++
	return true
}

func (n *Notifier) sendSlack(ctx context.Context, note *Notification) error {
	text := fmt.Sprintf("*%s anomaly* from `%s` (score %.2f)\nEvent: %s\nAction: %s",
		note.RiskLevel, note.SourceIP, note.RiskScore, note.EventType, note.Action)
	for _, r := range note.Reasons {
		text += "\n• " + r
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"channel": n.cfg.SlackChannel, "text": text}).
		Post(n.cfg.SlackWebhookURL)
	if err != nil {
		alertsSent.WithLabelValues("slack", "error").Inc()
		return fmt.Errorf("slack delivery: %w", err)
	}
	if resp.IsError() {
		alertsSent.WithLabelValues("slack", "error").Inc()
		return fmt.Errorf("slack delivery: status %d", resp.StatusCode())
	}
	alertsSent.WithLabelValues("slack", "ok").Inc()
	return nil
}

func (n *Notifier) sendWebhook(ctx context.Context, note *Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if n.cfg.WebhookSecret != "" {
		req.SetHeader("X-Logshield-Signature", Sign(n.cfg.WebhookSecret, body))
	}

	resp, err := req.Post(n.cfg.WebhookURL)
	if err != nil {
		alertsSent.WithLabelValues("webhook", "error").Inc()
		return fmt.Errorf("webhook delivery: %w", err)
	}
	if resp.IsError() {
		alertsSent.WithLabelValues("webhook", "error").Inc()
		return fmt.Errorf("webhook delivery: status %d", resp.StatusCode())
	}
	alertsSent.WithLabelValues("webhook", "ok").Inc()
	return nil
}

// Sign computes the hex HMAC-SHA256 of body under secret. Receivers
// verify the X-Logshield-Signature header with the same function.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
