// Package notify fans administrative messages out to every configured admin
// chat id. It is the single place the rest of the system reaches for when it
// needs a human to see something: quota pauses, auth recovery prompts,
// restoration confirmations, and critical failures.
package notify

import (
	"context"
	"fmt"

	"github.com/teltubby/teltubby/internal/telemetry"
	"github.com/teltubby/teltubby/internal/transport"
)

// Severity tags a notification's urgency in its rendered prefix.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Notifier delivers a message to every admin.
type Notifier struct {
	chat   transport.ChatClient
	admins []int64
	log    *telemetry.ContextLogger
}

// New builds a Notifier. admins is the whitelist of chat ids eligible to
// receive administrative broadcasts. A nil log defaults to the process
// logger with a "notify" component field.
func New(chat transport.ChatClient, admins []int64, log *telemetry.ContextLogger) *Notifier {
	if log == nil {
		log = telemetry.NewContextLogger(nil, map[string]interface{}{"component": "notify"})
	}
	return &Notifier{chat: chat, admins: admins, log: log}
}

// Notify renders severity and message into a single line and sends it to
// every admin, continuing past individual delivery failures so one admin's
// blocked chat never silences the rest. The first delivery error, if any, is
// returned after all admins have been attempted.
func (n *Notifier) Notify(ctx context.Context, sev Severity, message string) error {
	if n.chat == nil {
		return nil
	}
	text := fmt.Sprintf("[%s] %s", sev, message)

	var firstErr error
	for _, admin := range n.admins {
		if err := n.chat.SendMessage(ctx, admin, text); err != nil {
			n.log.WithFields(map[string]interface{}{"chat_id": admin}).WithError(err).Warn("admin notification delivery failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Info is a convenience wrapper for SeverityInfo.
func (n *Notifier) Info(ctx context.Context, message string) error {
	return n.Notify(ctx, SeverityInfo, message)
}

// Warning is a convenience wrapper for SeverityWarning.
func (n *Notifier) Warning(ctx context.Context, message string) error {
	return n.Notify(ctx, SeverityWarning, message)
}

// Critical is a convenience wrapper for SeverityCritical.
func (n *Notifier) Critical(ctx context.Context, message string) error {
	return n.Notify(ctx, SeverityCritical, message)
}
