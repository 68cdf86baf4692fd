package council

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeContent flattens an arbitrary response payload into plain text.
// Providers occasionally hand back object or array payloads instead of a
// string; the extraction order is fixed: "text", then "content", then
// "message", then the stringified JSON of the whole value. The transform is
// deterministic and idempotent over its own output.
func NormalizeContent(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := NormalizeContent(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		for _, key := range []string{"text", "content", "message"} {
			if inner, ok := val[key]; ok {
				if s := NormalizeContent(inner); s != "" {
					return s
				}
			}
		}
		return stringifyJSON(val)
	default:
		return stringifyJSON(val)
	}
}

func stringifyJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
