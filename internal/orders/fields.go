package orders

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// truthy decodes the loose booleans the store may hold: true/false,
// "true"/"false", 1/0, null.
type truthy bool

func (t *truthy) UnmarshalJSON(b []byte) error {
	*t = truthy(Truthy(b))
	return nil
}

// Truthy reports whether a raw JSON value counts as set.
func Truthy(raw []byte) bool {
	v := bytes.TrimSpace(raw)
	switch string(v) {
	case "", "null", "false", "0", `""`, `"false"`, `"0"`:
		return false
	}
	return true
}

// number accepts JSON numbers and numeric strings.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	v := bytes.TrimSpace(b)
	if string(v) == "null" {
		*n = 0
		return nil
	}
	if len(v) > 0 && v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

// parseTime accepts RFC3339 strings and epoch milliseconds.
func parseTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// FormatTime is the timestamp format written on every status change.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isDeliveryRole(role string) bool {
	r := strings.ToLower(strings.TrimSpace(role))
	return strings.Contains(r, "deliver") || r == "driver"
}
