package bus

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Format renders a value as an MQTT payload. Durations are published in
// whole seconds and times as RFC3339 UTC.
func Format(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case bool:
		return []byte(strconv.FormatBool(v)), nil
	case int:
		return []byte(strconv.Itoa(v)), nil
	case int64:
		return []byte(strconv.FormatInt(v, 10)), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("cannot publish %v", v)
		}
		return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case time.Duration:
		return []byte(strconv.FormatInt(int64(v/time.Second), 10)), nil
	case time.Time:
		return []byte(v.UTC().Format(time.RFC3339)), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return json.Marshal(value)
	}
}
