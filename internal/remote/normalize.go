package remote

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Epoch values below this are read as seconds, at or above as milliseconds.
// 1e11 seconds is far in the future; 1e11 millis is early 1973.
const secondsCutoff = 1e11

// Field returns the first non-nil value among names in m.
func Field(m map[string]any, names ...string) any {
	for _, n := range names {
		if v, ok := m[n]; ok && v != nil {
			return v
		}
	}
	return nil
}

// Object returns v as a JSON object.
func Object(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// List unwraps a JSON array that may arrive bare or nested under one of
// keys (checked recursively one level down through "data").
func List(v any, keys ...string) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		for _, k := range keys {
			if inner, ok := t[k]; ok && inner != nil {
				if l := List(inner, keys...); l != nil {
					return l
				}
			}
		}
		if data, ok := t["data"]; ok && data != nil {
			return List(data, keys...)
		}
	}
	return nil
}

// Number coerces v to a decimal. Accepts JSON numbers and numeric strings
// (surrounding whitespace, thousands separators and a leading currency
// symbol are tolerated).
func Number(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimLeft(s, "$฿€£")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	case bool:
		if t {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	}
	return decimal.Zero, false
}

// NumberOr coerces v, returning zero when it is not numeric.
func NumberOr(v any) decimal.Decimal {
	d, _ := Number(v)
	return d
}

// Int coerces v to an int, truncating fractions.
func Int(v any) (int, bool) {
	d, ok := Number(v)
	if !ok {
		return 0, false
	}
	return int(d.IntPart()), true
}

// String coerces v to a trimmed string. Numbers are formatted without
// exponent; other types yield "".
func String(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// Time coerces v to a UTC time. Accepts epoch seconds or millis (as numbers
// or numeric strings), ISO-8601 / RFC 3339 strings with or without zone,
// date-only strings, and {seconds, nanos} or {_seconds, _nanoseconds}
// objects. Anything else yields now.
func Time(v any, now time.Time) time.Time {
	if t, ok := parseTime(v); ok {
		return t
	}
	return now.UTC()
}

// OptTime is Time for nullable fields: nil and unparseable values yield nil.
func OptTime(v any) *time.Time {
	if t, ok := parseTime(v); ok {
		return &t
	}
	return nil
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if d, ok := Number(s); ok && !strings.ContainsAny(s, "-:T") {
			return fromEpoch(d)
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case map[string]any:
		secs, ok := Number(Field(t, "seconds", "_seconds"))
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := Number(Field(t, "nanos", "nanoseconds", "_nanoseconds"))
		return time.Unix(secs.IntPart(), nanos.IntPart()).UTC(), true
	default:
		d, ok := Number(v)
		if !ok {
			return time.Time{}, false
		}
		return fromEpoch(d)
	}
}

func fromEpoch(d decimal.Decimal) (time.Time, bool) {
	if d.Sign() <= 0 {
		return time.Time{}, false
	}
	if d.LessThan(decimal.NewFromFloat(secondsCutoff)) {
		ms := d.Mul(decimal.NewFromInt(1000)).IntPart()
		return time.UnixMilli(ms).UTC(), true
	}
	return time.UnixMilli(d.IntPart()).UTC(), true
}
