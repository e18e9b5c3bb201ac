package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	// AlertRevealFailureSpike fires when failed reveals across all keys
	// exceed the threshold, which per-key lockout alone does not catch.
	AlertRevealFailureSpike AlertType = "reveal_failure_spike"
	// AlertBulkDeletion fires when many keys or workspaces are deleted in a
	// short window.
	AlertBulkDeletion AlertType = "bulk_deletion"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// alertCollector tracks sliding window counters of audit events.
type alertCollector struct {
	mu sync.Mutex

	revealFailures  []time.Time
	revealWindow    time.Duration
	revealThreshold int

	deletions         []time.Time
	deletionWindow    time.Duration
	deletionThreshold int

	alertFn AlertFunc
}

const (
	defaultRevealFailureWindow    = 1 * time.Minute
	defaultRevealFailureThreshold = 50
	defaultDeletionWindow         = 5 * time.Minute
	defaultDeletionThreshold      = 20
)

func newAlertCollector(alertFn AlertFunc) *alertCollector {
	return &alertCollector{
		revealWindow:      defaultRevealFailureWindow,
		revealThreshold:   defaultRevealFailureThreshold,
		deletionWindow:    defaultDeletionWindow,
		deletionThreshold: defaultDeletionThreshold,
		alertFn:           alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (c *alertCollector) recordEvent(event AuditEvent) {
	if c == nil || c.alertFn == nil {
		return
	}
	switch event {
	case AuditKeyRevealFailure:
		c.record(&c.revealFailures, c.revealWindow, c.revealThreshold,
			AlertRevealFailureSpike, "failed reveal rate exceeds threshold")
	case AuditKeyDeleted, AuditWorkspaceDestroyed:
		c.record(&c.deletions, c.deletionWindow, c.deletionThreshold,
			AlertBulkDeletion, "deletion rate exceeds threshold")
	}
}

func (c *alertCollector) record(times *[]time.Time, window time.Duration, threshold int, typ AlertType, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	*times = trimWindow(append(*times, now), now, window)
	if len(*times) < threshold {
		return
	}
	c.alertFn(AlertEvent{
		Type:      typ,
		Message:   msg,
		Count:     len(*times),
		Threshold: threshold,
		Timestamp: now,
	})
	// Reset to avoid repeated alerts within the same spike.
	*times = (*times)[:0]
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
