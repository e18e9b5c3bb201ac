package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditKeyCreated         AuditEvent = "key_created"
	AuditKeyUpdated         AuditEvent = "key_updated"
	AuditKeyDeleted         AuditEvent = "key_deleted"
	AuditKeyRevealed        AuditEvent = "key_revealed"
	AuditKeyRevealFailure   AuditEvent = "key_reveal_failure"
	AuditKeyRevealLocked    AuditEvent = "key_reveal_locked"
	AuditKeyRotated         AuditEvent = "key_rotated"
	AuditPassphraseChanged  AuditEvent = "key_passphrase_changed"
	AuditWorkspaceDestroyed AuditEvent = "workspace_destroyed"
	AuditIPRateLimited      AuditEvent = "ip_rate_limited"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Each event is also fed to the alert collector and, when configured, the
// outbound webhook.
type auditLogger struct {
	logger  *slog.Logger
	alerts  *alertCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. Secrets, passphrases and bundles
// are never passed here.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	ts := time.Now().UTC().Format(time.RFC3339)
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", ts),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)

	al.alerts.recordEvent(event)
	if al.webhook != nil {
		al.webhook.enqueue(newWebhookEvent(event, r.RemoteAddr, ts, attrs))
	}
}

func newWebhookEvent(event AuditEvent, remoteAddr, ts string, attrs []slog.Attr) webhookEvent {
	evt := webhookEvent{
		Event:      string(event),
		RemoteAddr: remoteAddr,
		Timestamp:  ts,
	}
	for _, a := range attrs {
		switch a.Key {
		case "workspace_id":
			evt.WorkspaceID = a.Value.String()
		case "key_id":
			evt.KeyID = a.Value.String()
		default:
			if evt.Attrs == nil {
				evt.Attrs = make(map[string]string)
			}
			evt.Attrs[a.Key] = a.Value.String()
		}
	}
	return evt
}

// logKey is a convenience for events on a single key.
func (al *auditLogger) logKey(event AuditEvent, r *http.Request, workspaceID, keyID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("workspace_id", workspaceID),
		slog.String("key_id", keyID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
