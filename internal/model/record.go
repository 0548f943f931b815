package model

import (
	"sort"
	"time"
)

// Reserved field names resolved by Record.Field
const (
	FieldID        = "_id"
	FieldHost      = "host"
	FieldTimestamp = "ts"
	FieldMessage   = "message"
)

// Record is a single written document. Records are never mutated after a write.
type Record struct {
	ID        string            `json:"_id"`
	Fields    map[string]string `json:"fields"`
	Host      string            `json:"host"`
	Timestamp time.Time         `json:"ts"`
}

// Stamp returns t in UTC at millisecond precision, the finest resolution
// every store keeps.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// NewMessageRecord builds the record stored by a single write
func NewMessageRecord(id, message, host string, ts time.Time) Record {
	return Record{
		ID:        id,
		Fields:    map[string]string{FieldMessage: message},
		Host:      host,
		Timestamp: ts,
	}
}

// Field returns the string value stored under key and whether it exists.
// "_id"/"id" and "host" resolve to the record metadata. "ts" never matches:
// stores keep it as a native time, not a string.
func (r Record) Field(key string) (string, bool) {
	switch key {
	case FieldID, "id":
		return r.ID, r.ID != ""
	case FieldHost:
		return r.Host, r.Host != ""
	case FieldTimestamp:
		return "", false
	}
	v, ok := r.Fields[key]
	return v, ok
}

// Equal compares two records by field values
func (r Record) Equal(other Record) bool {
	if r.ID != other.ID || r.Host != other.Host || !r.Timestamp.Equal(other.Timestamp) {
		return false
	}
	if len(r.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range r.Fields {
		if ov, ok := other.Fields[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// SortNewestFirst orders records by write timestamp descending
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}
