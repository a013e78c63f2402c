// Package payload reads loosely-typed JSON objects produced by the marketplace backend,
// where the same value may arrive under several field names or encodings.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Fields is a decoded JSON object.
type Fields map[string]any

// Parse decodes raw JSON into Fields. Numbers are kept as json.Number.
func Parse(raw []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields Fields
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("payload: decode object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("payload: expected JSON object")
	}
	return fields, nil
}

// Lookup returns the first present, non-null value among keys.
func (f Fields) Lookup(keys ...string) (any, bool) {
	for _, key := range keys {
		if value, ok := f[key]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

// String returns the first key holding a string or number, formatted as a string.
func (f Fields) String(keys ...string) string {
	for _, key := range keys {
		switch v := f[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// Int returns the first key holding an integer-like value.
func (f Fields) Int(keys ...string) (int64, bool) {
	for _, key := range keys {
		if n, ok := toInt(f[key]); ok {
			return n, true
		}
	}
	return 0, false
}

// Bool returns the first key holding a boolean-like value. Strings "true", "1", "yes"
// and non-zero numbers count as true.
func (f Fields) Bool(keys ...string) (bool, bool) {
	for _, key := range keys {
		switch v := f[key].(type) {
		case bool:
			return v, true
		case json.Number:
			n, err := v.Float64()
			if err == nil {
				return n != 0, true
			}
		case float64:
			return v != 0, true
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "y":
				return true, true
			case "false", "0", "no", "n":
				return false, true
			}
		}
	}
	return false, false
}

// Object returns the first key holding a nested object.
func (f Fields) Object(keys ...string) (Fields, bool) {
	for _, key := range keys {
		if m, ok := f[key].(map[string]any); ok {
			return Fields(m), true
		}
	}
	return nil, false
}

// Strings returns the first key holding an array, keeping its string-like elements.
func (f Fields) Strings(keys ...string) []string {
	for _, key := range keys {
		items, ok := f[key].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				out = append(out, v)
			case map[string]any:
				if name := Fields(v).String("name", "authority", "role"); name != "" {
					out = append(out, name)
				}
			}
		}
		return out
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses the first key holding a recognisable timestamp. Accepted forms are RFC3339,
// ISO local date-times (read as UTC), "2006-01-02 15:04:05", epoch seconds, epoch millis,
// and the [y,m,d,h,mi,s,nanos] arrays emitted by Jackson.
func (f Fields) Time(keys ...string) (time.Time, bool) {
	for _, key := range keys {
		if t, ok := ParseTime(f[key]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTime converts a single decoded JSON value to a timestamp.
func ParseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n), true
		}
	case json.Number, float64:
		if n, ok := toInt(v); ok {
			return fromEpoch(n), true
		}
	case []any:
		return fromParts(v)
	}
	return time.Time{}, false
}

func fromEpoch(n int64) time.Time {
	// Values above 1e11 cannot be seconds for any date this system will see.
	if n > 100_000_000_000 || n < -100_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func fromParts(parts []any) (time.Time, bool) {
	if len(parts) < 3 {
		return time.Time{}, false
	}
	values := make([]int, 7)
	for i := 0; i < len(parts) && i < 7; i++ {
		n, ok := toInt(parts[i])
		if !ok {
			return time.Time{}, false
		}
		values[i] = int(n)
	}
	return time.Date(values[0], time.Month(values[1]), values[2], values[3], values[4], values[5], values[6], time.UTC), true
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
