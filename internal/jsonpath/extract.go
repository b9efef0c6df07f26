// Package jsonpath reads dot-notation paths out of embedded JSON attributes
// and formats the results for display.
package jsonpath

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/gnemet/gridengine/record"
)

type missing struct{}

func (missing) String() string { return "" }

// Missing is returned when a path does not resolve. It formats as "".
var Missing any = missing{}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v any) bool {
	_, ok := v.(missing)
	return ok
}

// Extract resolves path inside row[base]. An empty path yields the whole
// decoded document. The row is never modified.
func Extract(row record.Row, base, path string) any {
	raw, ok := row[base]
	if !ok || raw == nil {
		return Missing
	}
	return ExtractValue(raw, path)
}

// ExtractValue resolves path inside a JSON text or an already decoded value.
func ExtractValue(raw any, path string) any {
	doc, ok := document(raw)
	if !ok {
		return Missing
	}
	if path == "" {
		return gjson.Parse(doc).Value()
	}
	res := gjson.Get(doc, escapePath(path))
	if !res.Exists() {
		return Missing
	}
	return res.Value()
}

func document(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		if !gjson.Valid(v) {
			return "", false
		}
		return v, true
	case []byte:
		if !gjson.ValidBytes(v) {
			return "", false
		}
		return string(v), true
	case json.RawMessage:
		return document([]byte(v))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// escapePath quotes gjson's wildcard and modifier characters so every
// segment is matched literally.
func escapePath(path string) string {
	segs := strings.Split(path, ".")
	for i, s := range segs {
		var b strings.Builder
		for _, r := range s {
			switch r {
			case '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', '\\', '(', ')', '[', ']', '{', '}', ',', '"':
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		segs[i] = b.String()
	}
	return strings.Join(segs, ".")
}

// Format renders an extracted value for display: missing and null as "",
// booleans as Yes/No, containers as compact JSON.
func Format(v any) string {
	switch x := v.(type) {
	case nil, missing:
		return ""
	case bool:
		if x {
			return "Yes"
		}
		return "No"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.DateTime)
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return strings.Trim(string(b), `"`)
	}
}
