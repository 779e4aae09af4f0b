// Package alert pushes out-of-band notifications when the agent parks an
// action at the approval gate, so an operator who is not watching the
// console still hears about it.
package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/paydeck/paydeck/internal/config"
)

// Alert represents a notification to be sent.
type Alert struct {
	Type      string         `json:"type"`     // approval_required, anomaly
	Severity  string         `json:"severity"` // info, warning, critical
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sender is an alert delivery channel.
type Sender interface {
	Send(alert Alert) error
	Name() string
}

// Manager dispatches alerts to the configured channels with deduplication:
// the same alert type for the same thread fires at most once per TTL, so a
// proposal sitting at the gate does not spam the operator every poll.
type Manager struct {
	mu       sync.Mutex
	senders  []Sender
	dedup    map[string]time.Time
	dedupTTL time.Duration
	logger   *slog.Logger
}

// NewManager creates an alert manager from config. With no webhook URL
// configured the manager is inert but still safe to call.
func NewManager(cfg config.AlertsConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		dedup:    make(map[string]time.Time),
		dedupTTL: 5 * time.Minute,
		logger:   logger.With("component", "alert.Manager"),
	}
	if cfg.Webhook.URL != "" {
		m.senders = append(m.senders, NewWebhookSender(cfg.Webhook))
	}
	return m
}

// Send dispatches an alert to all configured channels, asynchronously.
func (m *Manager) Send(alert Alert) {
	alert.Timestamp = time.Now()

	dedupKey := alert.Type + "|" + alert.ThreadID
	m.mu.Lock()
	if lastSent, ok := m.dedup[dedupKey]; ok && time.Since(lastSent) < m.dedupTTL {
		m.mu.Unlock()
		m.logger.Debug("alert deduplicated", "type", alert.Type, "key", dedupKey)
		return
	}
	m.dedup[dedupKey] = time.Now()
	senders := m.senders
	m.mu.Unlock()

	for _, sender := range senders {
		go func(s Sender) {
			if err := s.Send(alert); err != nil {
				m.logger.Error("failed to send alert",
					"sender", s.Name(),
					"type", alert.Type,
					"error", err,
				)
			}
		}(sender)
	}
}
