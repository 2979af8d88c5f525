package notification

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Severities carried by events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Event is the structured record delivered to a chat channel.
type Event struct {
	Title    string
	Lines    []string
	Severity string
	At       time.Time
}

func (e Event) Text() string {
	var b strings.Builder
	switch e.Severity {
	case SeverityError, SeverityCritical:
		b.WriteString("❌ ")
	case SeverityWarning:
		b.WriteString("⚠️ ")
	default:
		b.WriteString("✅ ")
	}
	b.WriteString(e.Title)
	for _, line := range e.Lines {
		b.WriteString("\n")
		b.WriteString(line)
	}
	if !e.At.IsZero() {
		b.WriteString("\n")
		b.WriteString(e.At.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// Sink fans events out to a channel. Implementations never propagate
// delivery errors to callers.
type Sink interface {
	Notify(ctx context.Context, event Event)
}

// LogSink writes events to the service log. It is the fallback when no
// chat transport is configured.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Notify(ctx context.Context, event Event) {
	if s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("severity", event.Severity),
		zap.Strings("lines", event.Lines),
	}
	switch event.Severity {
	case SeverityError, SeverityCritical:
		s.Logger.Error("notification: "+event.Title, fields...)
	case SeverityWarning:
		s.Logger.Warn("notification: "+event.Title, fields...)
	default:
		s.Logger.Info("notification: "+event.Title, fields...)
	}
}
