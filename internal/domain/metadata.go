package domain

import (
	stdjson "encoding/json"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metadata is a loosely typed JSON object. Accessors report absence instead of
// failing when a key is missing or holds an unexpected type.
type Metadata map[string]any

func (m Metadata) Lookup(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the value rendered as a string. Numbers and booleans are
// formatted; objects and arrays are treated as absent.
func (m Metadata) String(key string) (string, bool) {
	v, ok := m.Lookup(key)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case stdjson.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case map[string]any, []any:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}

func (m Metadata) Int(key string) (int, bool) {
	v, ok := m.Lookup(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case stdjson.Number:
		i, err := strconv.Atoi(t.String())
		return i, err == nil
	case string:
		i, err := strconv.Atoi(t)
		return i, err == nil
	}
	return 0, false
}

// Object returns a nested object. A nested object encoded as a JSON string is
// decoded as well, since some producers double-encode metadata.
func (m Metadata) Object(key string) (Metadata, bool) {
	v, ok := m.Lookup(key)
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return Metadata(t), true
	case Metadata:
		return t, true
	case string:
		var nested map[string]any
		if err := json.Unmarshal([]byte(t), &nested); err != nil {
			return nil, false
		}
		return Metadata(nested), true
	}
	return nil, false
}
