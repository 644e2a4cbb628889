package sanitize

import "github.com/cowrieproc/ingestcore/internal/model"

// fileKeys and urlKeys name payload fields that get the field-specific
// sanitizers instead of the generic string sanitizer (spec.md §4.A).
var fileKeys = map[string]bool{
	"filename": true,
	"outfile":  true,
}

var urlKeys = map[string]bool{
	"url": true,
}

// Payload sanitizes every string-valued leaf of p in place and returns the
// number of leaves that were actually modified (spec.md §7 "Sanitization
// loss" metric). Only called after a successful parse; never during
// multiline accumulation (spec.md §4.D).
func Payload(p model.Payload) (model.Payload, int) {
	lossCount := 0
	for k, v := range p {
		p[k] = sanitizeValue(k, v, &lossCount)
	}
	return p, lossCount
}

func sanitizeValue(key string, v any, lossCount *int) any {
	switch t := v.(type) {
	case string:
		var out string
		switch {
		case fileKeys[key]:
			out = Filename(t)
		case urlKeys[key]:
			out = URL(t)
		default:
			out = String(t)
		}
		if out != t {
			*lossCount++
		}
		return out
	case map[string]any:
		for k, vv := range t {
			t[k] = sanitizeValue(k, vv, lossCount)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = sanitizeValue(key, vv, lossCount)
		}
		return t
	default:
		return v
	}
}
