package backup

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// NormalizeRows converts row values that JSON cannot carry natively into strings.
func NormalizeRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		n := make(map[string]any, len(row))
		for k, v := range row {
			n[k] = normalizeValue(v)
		}
		out[i] = n
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(t).String()
	case []byte:
		if utf8.Valid(t) {
			return string(t)
		}
		return `\x` + hex.EncodeToString(t)
	case map[string]any:
		n := make(map[string]any, len(t))
		for k, vv := range t {
			n[k] = normalizeValue(vv)
		}
		return n
	case []any:
		n := make([]any, len(t))
		for i, vv := range t {
			n[i] = normalizeValue(vv)
		}
		return n
	case json.Marshaler:
		if v, ok := marshalerValue(t); ok {
			return v
		}
		return fmt.Sprint(t)
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return fmt.Sprint(t)
		}
		if _, self := dv.(driver.Valuer); self {
			return fmt.Sprint(dv)
		}
		return normalizeValue(dv)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprint(f)
	}
	return f
}

// marshalerValue keeps JSON numbers and strings from types that encode
// themselves, such as numeric columns.
func marshalerValue(m json.Marshaler) (any, bool) {
	raw, err := m.MarshalJSON()
	if err != nil || !json.Valid(raw) {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false
	}
	switch d := decoded.(type) {
	case nil, string, bool:
		return d, true
	}
	return json.RawMessage(bytes.TrimSpace(raw)), true
}
