// Package diag keeps the capped in-memory log of transport faults.
package diag

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/model"
)

// DefaultCapacity bounds the number of retained entries.
const DefaultCapacity = 10

// Observer receives every recorded entry.
type Observer func(model.ErrorLogEntry)

// ErrorLog is a most-recent-first ring of diagnostic entries. Safe for concurrent use.
type ErrorLog struct {
	mu       sync.Mutex
	entries  []model.ErrorLogEntry
	capacity int
	observer Observer
	log      *zap.Logger
	now      func() time.Time
}

// NewErrorLog constructs a log holding at most capacity entries.
func NewErrorLog(capacity int, log *zap.Logger) *ErrorLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ErrorLog{capacity: capacity, log: log, now: time.Now}
}

// SetObserver installs (or clears with nil) the observer callback.
func (l *ErrorLog) SetObserver(o Observer) {
	l.mu.Lock()
	l.observer = o
	l.mu.Unlock()
}

// Record appends an entry, evicting the oldest one past capacity.
func (l *ErrorLog) Record(kind model.ErrorKind, description string) model.ErrorLogEntry {
	id, _ := uuid.NewV4()
	e := model.ErrorLogEntry{ID: id, Kind: kind, Description: description, Timestamp: l.now()}

	l.mu.Lock()
	l.entries = append([]model.ErrorLogEntry{e}, l.entries...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
	obs := l.observer
	l.mu.Unlock()

	l.log.Warn("diagnostic", zap.String("kind", string(kind)), zap.String("desc", description))
	if obs != nil {
		obs(e)
	}
	return e
}

// Entries returns a copy, most recent first.
func (l *ErrorLog) Entries() []model.ErrorLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.ErrorLogEntry(nil), l.entries...)
}

// Len returns the number of retained entries.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
