// Package notification delivers trade lifecycle alerts to external channels
// (Telegram, webhooks) and to the log.
package notification

import (
	"context"
	"log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// EventKind classifies lifecycle alerts so operators can mute kinds
// individually.
type EventKind string

const (
	EventSignalDetected        EventKind = "signal_detected"
	EventEntryOpened           EventKind = "entry_opened"
	EventEntryCancelled        EventKind = "entry_cancelled"
	EventPositionClosed        EventKind = "position_closed"
	EventInstrumentDeactivated EventKind = "instrument_deactivated"
	EventSystemError           EventKind = "system_error"
)

// Alert represents a notification to be sent.
type Alert struct {
	Kind    EventKind  `json:"kind"`
	Level   AlertLevel `json:"level"`
	Symbol  string     `json:"symbol,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] [%s] %s: %s", alert.Level, alert.Kind, alert.Title, alert.Message)
	return nil
}
