// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultAuditCapacity is the number of entries kept before the oldest is evicted.
const DefaultAuditCapacity = 1000

// AnonymousUserID is recorded for checks made without a user.
const AnonymousUserID = "anonymous"

// Action values recorded in the audit log.
const (
	ActionAllowed = "allowed"
	ActionDenied  = "denied"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

// AuditEntry is one recorded access decision.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	Route     string    `json:"route"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
}

// Denied reports whether the entry records a denial.
func (e AuditEntry) Denied() bool { return e.Action == ActionDenied }

// ToLogLine formats the entry as a single log line.
func (e AuditEntry) ToLogLine() string {
	return fmt.Sprintf("%s | %s | %s | %s | %s",
		e.Timestamp.Format("2006-01-02 15:04:05"),
		e.UserID,
		e.Route,
		e.Action,
		e.Reason,
	)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditLog is a bounded, append-only ring buffer of access decisions.
// Inserting past capacity evicts the oldest entry. It is safe for concurrent use.
type AuditLog struct {
	mu       sync.RWMutex
	entries  []AuditEntry
	head     int // index of the oldest entry once the buffer is full
	capacity int
}

// NewAuditLog creates an empty log. A non-positive capacity means DefaultAuditCapacity.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{
		entries:  make([]AuditEntry, 0, capacity),
		capacity: capacity,
	}
}

// Append records e, assigning an ID if it has none.
func (l *AuditLog) Append(e AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) < l.capacity {
		l.entries = append(l.entries, e)
		return
	}
	l.entries[l.head] = e
	l.head = (l.head + 1) % l.capacity
}

// Entries returns a snapshot of the log, oldest first.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]AuditEntry, 0, len(l.entries))
	out = append(out, l.entries[l.head:]...)
	out = append(out, l.entries[:l.head]...)
	return out
}

// DeniedFor returns the denied entries for userID, oldest first.
func (l *AuditLog) DeniedFor(userID string) []AuditEntry {
	var out []AuditEntry
	for _, e := range l.Entries() {
		if e.UserID == userID && e.Denied() {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops every entry.
func (l *AuditLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
	l.head = 0
}

// Len returns the number of entries held.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the maximum number of entries held.
func (l *AuditLog) Capacity() int { return l.capacity }
