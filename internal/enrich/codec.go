package enrich

import "encoding/json"

func encodeLookup(l Lookup) ([]byte, error) {
	return json.Marshal(l)
}

func decodeLookup(raw []byte, l *Lookup) error {
	return json.Unmarshal(raw, l)
}
