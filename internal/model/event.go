// Package model holds the entity types shared across the ingestion,
// enrichment, and migration packages. Payloads are kept as generic JSON
// values so unknown Cowrie keys survive a round trip.
package model

import (
	"encoding/json"
	"time"
)

// EventType is a well-known Cowrie eventid. Unrecognized ids are still
// accepted (forward compatibility) and carried as a plain string.
type EventType string

const (
	EventSessionConnect    EventType = "cowrie.session.connect"
	EventSessionClosed     EventType = "cowrie.session.closed"
	EventCommandInput      EventType = "cowrie.command.input"
	EventLoginSuccess      EventType = "cowrie.login.success"
	EventLoginFailed       EventType = "cowrie.login.failed"
	EventSessionFileUpload EventType = "cowrie.session.file_upload"
	EventSessionFileDl     EventType = "cowrie.session.file_download"
	EventClientKex         EventType = "cowrie.client.kex"
	EventClientVersion     EventType = "cowrie.client.version"
	EventSSHKexAuth        EventType = "cowrie.client.public_key" // ssh key injection attempts
)

// EventIDPrefix is the vocabulary prefix every valid Cowrie event must begin
// with (spec.md §4.B).
const EventIDPrefix = "cowrie."

// Payload is a raw parsed Cowrie event. Field access goes through the
// helpers below rather than direct map indexing so callers don't repeat
// type assertions.
type Payload map[string]any

// String returns the string value of key, or "" if absent/wrong type.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// EventID returns the payload's eventid field.
func (p Payload) EventID() string { return p.String("eventid") }

// Int64 returns the numeric value of key, or 0 if absent/wrong type. JSON
// decodes unmarshaled into map[string]any surface numbers as float64.
func (p Payload) Int64(key string) int64 {
	v, ok := p[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

// SessionID returns the payload's session field.
func (p Payload) SessionID() string { return p.String("session") }

// Clone returns a deep-enough copy of the payload for safe in-place
// sanitization without mutating a shared original.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// MarshalCanonicalJSON serializes the payload with sorted object keys so two
// logically-equal payloads hash identically regardless of source key order
// (spec.md §3 "payload_hash [hex SHA-256 of canonicalized payload]").
func (p Payload) MarshalCanonicalJSON() ([]byte, error) {
	return canonicalJSON(map[string]any(p))
}

func canonicalJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		return canonicalObject(t)
	case []any:
		return canonicalArray(t)
	default:
		return json.Marshal(v)
	}
}

func canonicalObject(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := canonicalJSON(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func canonicalArray(a []any) ([]byte, error) {
	buf := []byte{'['}
	for i, v := range a {
		if i > 0 {
			buf = append(buf, ',')
		}
		vb, err := canonicalJSON(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, ']')
	return buf, nil
}

// sortStrings is a tiny insertion sort to avoid pulling in "sort" for a
// handful of keys in the hot ingest path; falls back to stdlib for larger
// payloads.
func sortStrings(s []string) {
	if len(s) > 16 {
		sortStringsStdlib(s)
		return
	}
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// RawEvent is the append-only log row (spec.md §3 RawEvent).
type RawEvent struct {
	ID             int64
	IngestID       string
	IngestAt       time.Time
	Source         string
	SourceOffset   int64
	SourceInode    string
	Payload        Payload
	PayloadHash    string // hex SHA-256 of canonicalized payload
	SessionID      string // nullable: empty string means NULL
	EventType      string
	EventTimestamp time.Time
	RiskScore      int
	Quarantined    bool
}
