package logs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type filter map[string]string

func newFilter(fields map[string]string) filter {
	out := filter{}
	for k, v := range fields {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func (f filter) match(line string) bool {
	if len(f) == 0 {
		return true
	}
	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		return f.matchJSON(line)
	}
	for k, v := range f {
		if !hasPair(line, k, v) {
			return false
		}
	}
	return true
}

func (f filter) matchJSON(line string) bool {
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return false
	}
	for k, v := range f {
		value, ok := record[k]
		if !ok || fmt.Sprint(value) != v {
			return false
		}
	}
	return true
}

// hasPair reports whether a console line carries key=value, with the value
// either bare or quoted.
func hasPair(line, key, value string) bool {
	for _, candidate := range []string{key + "=" + value, key + "=" + strconv.Quote(value)} {
		needle := " " + candidate
		for rest := line; ; {
			idx := strings.Index(rest, needle)
			if idx < 0 {
				break
			}
			after := rest[idx+len(needle):]
			if after == "" || after[0] == ' ' {
				return true
			}
			rest = after
		}
	}
	return false
}
