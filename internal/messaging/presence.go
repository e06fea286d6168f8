// internal/messaging/presence.go
// Presence registry: who currently holds a live connection

package messaging

import (
	"sync"
	"time"
)

// PresenceRecord is the ephemeral per-user presence entry. It exists only
// while an authenticated connection is live and is never persisted.
type PresenceRecord struct {
	UserID       int64     `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	LastSeen     time.Time `json:"last_seen"`
}

// PresenceRegistry tracks which users hold a live connection. At most one
// record exists per user: a newer connection for the same user replaces the
// older one. The in-memory implementation is the default; the Redis-backed
// one mirrors records for multi-instance deployments.
type PresenceRegistry interface {
	// Register adds or replaces the record for rec.UserID.
	Register(rec PresenceRecord)
	// Deregister removes the user's record, but only if it still belongs to
	// the given connection. Reports whether a record was removed, so a
	// superseded connection's late cleanup cannot evict its successor.
	Deregister(userID int64, connectionID string) bool
	// Touch refreshes the user's last-seen timestamp.
	Touch(userID int64)
	// Snapshot returns a copy of every record. The copy is taken under the
	// registry lock, so it never observes a mid-mutation state.
	Snapshot() []PresenceRecord
	// IsOnline reports whether the user has a live record.
	IsOnline(userID int64) bool
}

type memoryRegistry struct {
	mu      sync.RWMutex
	records map[int64]PresenceRecord
}

// NewMemoryRegistry creates the in-process presence registry
func NewMemoryRegistry() PresenceRegistry {
	return &memoryRegistry{
		records: make(map[int64]PresenceRecord),
	}
}

func (r *memoryRegistry) Register(rec PresenceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now()
	}
	r.records[rec.UserID] = rec
}

func (r *memoryRegistry) Deregister(userID int64, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok || rec.ConnectionID != connectionID {
		return false
	}
	delete(r.records, userID)
	return true
}

func (r *memoryRegistry) Touch(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[userID]; ok {
		rec.LastSeen = time.Now()
		r.records[userID] = rec
	}
}

func (r *memoryRegistry) Snapshot() []PresenceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PresenceRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

func (r *memoryRegistry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.records[userID]
	return ok
}
