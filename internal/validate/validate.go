// Package validate implements the Event Validator (spec.md §4.B): it
// confirms a parsed object is a plausible Cowrie event before it is allowed
// into the bulk/delta loader pipeline.
package validate

import (
	"fmt"
	"time"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// Result is returned by Event; Valid may be true even when Warnings is
// non-empty (e.g. an unknown eventid is accepted but tagged per spec.md
// §4.B "Unknown event-ids are accepted... but tagged").
type Result struct {
	Valid     bool
	Errors    []string
	Warnings  []string
	EventType string
	Timestamp time.Time
}

// fieldChecks names the extra required keys for event types the core knows
// about (spec.md §6 "Cowrie event wire shape"). Types absent here are still
// accepted, without a per-type field check and with an "unrecognized
// eventid" warning.
var fieldChecks = map[string][]string{
	string(model.EventSessionConnect):    {"src_ip"},
	string(model.EventCommandInput):      {"input"},
	string(model.EventLoginSuccess):      {"username", "password"},
	string(model.EventLoginFailed):       {"username", "password"},
	string(model.EventSessionFileDl):     {"url", "shasum"},
}

// Event validates a parsed Cowrie payload. It never mutates p.
func Event(p model.Payload) Result {
	var res Result

	if p == nil {
		res.Errors = append(res.Errors, "payload is not a JSON object")
		return res
	}

	eventID := p.EventID()
	if eventID == "" {
		res.Errors = append(res.Errors, "missing eventid")
	} else if len(eventID) < len(model.EventIDPrefix) || eventID[:len(model.EventIDPrefix)] != model.EventIDPrefix {
		res.Errors = append(res.Errors, fmt.Sprintf("eventid %q missing %q prefix", eventID, model.EventIDPrefix))
	}
	res.EventType = eventID

	ts, ok := parseTimestamp(p.String("timestamp"))
	if !ok {
		res.Errors = append(res.Errors, "missing or unparseable timestamp")
	}
	res.Timestamp = ts

	if len(res.Errors) > 0 {
		return res
	}

	if required, known := fieldChecks[eventID]; known {
		for _, key := range required {
			if _, present := p[key]; !present {
				res.Errors = append(res.Errors, fmt.Sprintf("event %q missing required field %q", eventID, key))
			}
		}
	} else {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unrecognized eventid %q accepted for forward compatibility", eventID))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// parseTimestamp accepts ISO-8601 UTC timestamps in the formats Cowrie
// actually emits.
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
