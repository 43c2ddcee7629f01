// Package payload defines the opaque key-value blobs that flow through job
// execution: a job's declared input, a worker's output, and the merged
// input built from prerequisite outputs.
//
// Payloads are persisted as JSON and must round-trip exactly across store
// read/write. Values are JSON-typed: strings, numbers, booleans, nested
// arrays. Workers that need richer typing should encode it themselves.
package payload

import "encoding/json"

// Payload is an opaque key-value blob.
type Payload map[string]any

// Empty is the canonical zero-size payload.
var Empty = Payload{}

// Decode parses a persisted payload blob. A nil or empty blob decodes to an
// empty payload, never an error.
func Decode(data []byte) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, nil
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// Encode serializes the payload for persistence. A nil payload encodes as
// an empty JSON object.
func (p Payload) Encode() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Size returns the number of keys.
func (p Payload) Size() int { return len(p) }

// Clone returns a shallow copy. Callers that mutate nested values share
// them with the original.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	cp := make(Payload, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// String returns the string stored under key, and whether it was present
// and a string.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Strings returns the string slice stored under key. Values decoded from
// JSON arrive as []any; both representations are accepted.
func (p Payload) Strings(key string) ([]string, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}

	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, sok := e.(string)
			if !sok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
