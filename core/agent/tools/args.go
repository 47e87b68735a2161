package tools

import (
	"strconv"
	"strings"
)

func getStringArg(args map[string]any, key, defaultVal string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return defaultVal
}

// getIntArg accepts JSON numbers and numeric strings.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return defaultVal
}
