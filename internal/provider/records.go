package provider

import (
	"fmt"
	"time"
)

// Record is one loosely-typed provider payload. BambooHR uses several key
// names for the same field across endpoints, so access goes through ordered
// alias lookups that fail closed (empty value) instead of panicking.
type Record map[string]any

// String tries each alias in order and returns the first non-empty scalar,
// stringified. Numeric ids come back as float64 from JSON decoding.
func (r Record) String(aliases ...string) string {
	for _, key := range aliases {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			if t == float64(int64(t)) {
				return fmt.Sprintf("%d", int64(t))
			}
			return fmt.Sprintf("%g", t)
		case int:
			return fmt.Sprintf("%d", t)
		case bool:
			return fmt.Sprintf("%t", t)
		}
	}
	return ""
}

// Child returns a nested object under the first alias that holds one.
func (r Record) Child(aliases ...string) Record {
	for _, key := range aliases {
		if m, ok := r[key].(map[string]any); ok {
			return Record(m)
		}
	}
	return nil
}

// Label digs the common {"label": "..."} shape out of a nested object,
// falling back to a plain string at the same key.
func (r Record) Label(aliases ...string) string {
	for _, key := range aliases {
		switch t := r[key].(type) {
		case map[string]any:
			if s, ok := t["label"].(string); ok && s != "" {
				return s
			}
		case string:
			if t != "" {
				return t
			}
		}
	}
	return ""
}

// Time parses the first alias holding a recognizable timestamp. Returns the
// zero time when nothing parses.
func (r Record) Time(aliases ...string) time.Time {
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	for _, key := range aliases {
		s, ok := r[key].(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// Bool returns the first alias holding a boolean.
func (r Record) Bool(aliases ...string) (bool, bool) {
	for _, key := range aliases {
		if b, ok := r[key].(bool); ok {
			return b, true
		}
	}
	return false, false
}

// listKeys are the wrapper keys BambooHR list endpoints have been observed
// to use.
var listKeys = []string{"data", "applications", "jobs", "applicants", "items", "result"}

// ExtractList normalizes the variable list-response shapes: a bare array,
// {"data": [...]}, {"applications": [...]} and friends. Unknown shapes yield
// an empty slice.
func ExtractList(resp any) []Record {
	switch t := resp.(type) {
	case []any:
		return toRecords(t)
	case map[string]any:
		for _, key := range listKeys {
			if arr, ok := t[key].([]any); ok {
				return toRecords(arr)
			}
		}
		if meta, ok := t["meta"].(map[string]any); ok {
			for _, key := range listKeys {
				if arr, ok := meta[key].([]any); ok {
					return toRecords(arr)
				}
			}
		}
	}
	return nil
}

func toRecords(items []any) []Record {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			records = append(records, Record(m))
		}
	}
	return records
}

// PaginationComplete reports the provider's explicit end-of-listing flag.
func PaginationComplete(resp any) bool {
	m, ok := resp.(map[string]any)
	if !ok {
		return false
	}
	if done, ok := m["paginationComplete"].(bool); ok {
		return done
	}
	if meta, ok := m["meta"].(map[string]any); ok {
		if done, ok := meta["paginationComplete"].(bool); ok {
			return done
		}
	}
	return false
}

// HasAbsoluteNextPage reports an absolute nextPageUrl, which this client does
// not follow; pagination stops conservatively instead of looping.
func HasAbsoluteNextPage(resp any) bool {
	m, ok := resp.(map[string]any)
	if !ok {
		return false
	}
	next, _ := m["nextPageUrl"].(string)
	if next == "" {
		if links, ok := m["links"].(map[string]any); ok {
			next, _ = links["next"].(string)
		}
	}
	return len(next) > 4 && next[:4] == "http"
}
