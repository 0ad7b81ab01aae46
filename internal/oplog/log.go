// Package oplog keeps the activity log shown next to the offer panel.
package oplog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindOfferCreate Kind = "offer_create"
	KindDecrypt     Kind = "decrypt"
	KindInfo        Kind = "info"
	KindError       Kind = "error"
)

const DefaultCapacity = 100

type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"ts"`
	Kind    Kind      `json:"type"`
	Title   string    `json:"title"`
	Details string    `json:"details,omitempty"`
}

// Log holds the most recent entries, newest first.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	Now      func() time.Time
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

func (l *Log) Add(kind Kind, title, details string) Entry {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	e := Entry{ID: uuid.NewString(), Time: now, Kind: kind, Title: title, Details: details}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]Entry{e}, l.entries...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
	return e
}

// OnEvent makes Log usable as the offer session's event sink.
func (l *Log) OnEvent(kind, title, details string) {
	l.Add(Kind(kind), title, details)
}

func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
