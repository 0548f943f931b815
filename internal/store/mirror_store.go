package store

import (
	"sync"

	"github.com/devrev/replicawatch/internal/model"
)

// MirrorStore is a process-scoped, append-only copy of records written through
// this process with mirroring enabled. It starts empty, only grows, and is lost
// on restart. It is not a replication target.
type MirrorStore struct {
	mu      sync.RWMutex
	records []model.Record
}

// NewMirrorStore creates an empty mirror
func NewMirrorStore() *MirrorStore {
	return &MirrorStore{}
}

// Append adds records to the mirror
func (m *MirrorStore) Append(records ...model.Record) {
	if len(records) == 0 {
		return
	}
	m.mu.Lock()
	m.records = append(m.records, records...)
	m.mu.Unlock()
}

// Find scans a snapshot of the mirror for records whose key field equals value.
// limit <= 0 means no limit.
func (m *MirrorStore) Find(key, value string, limit int) []model.Record {
	snapshot := m.snapshot()

	matches := make([]model.Record, 0)
	for _, r := range snapshot {
		if v, ok := r.Field(key); ok && v == value {
			matches = append(matches, r)
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}
	return matches
}

// Len returns the number of mirrored records
func (m *MirrorStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// snapshot returns the current slice header. Appends never modify the
// elements visible through an older header.
func (m *MirrorStore) snapshot() []model.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[:len(m.records):len(m.records)]
}
