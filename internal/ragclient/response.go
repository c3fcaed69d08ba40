package ragclient

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Response is the success side of every client call. Body is raw JSON (possibly empty),
// except for binary downloads where ContentType and Disposition describe it.
type Response struct {
	Status   int
	Body     json.RawMessage
	NotFound bool

	ContentType string
	Disposition string
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Object returns the body as a JSON object, or nil when it is not one.
func (r Response) Object() map[string]any {
	var out map[string]any
	if err := r.Decode(&out); err != nil {
		return nil
	}
	return out
}

// String returns a top-level string field, or "".
func (r Response) String(key string) string {
	s, _ := r.Object()[key].(string)
	return strings.TrimSpace(s)
}

// Inserted returns the reported inserted-chunk count and whether one was reported.
func (r Response) Inserted() (int, bool) {
	return IntField(r.Object(), "inserted")
}

// Items returns the list payload. Arrays are returned directly; objects are searched
// for a "docs", "documents" or "items" array.
func (r Response) Items() []map[string]any {
	var arr []map[string]any
	if err := r.Decode(&arr); err == nil && arr != nil {
		return arr
	}
	obj := r.Object()
	for _, key := range []string{"docs", "documents", "items"} {
		raw, ok := obj[key].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(raw))
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return []map[string]any{}
}

// IntField reads an integer-valued field from a decoded JSON object.
func IntField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

