package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ParseArgs splits key=value pairs from the command line. Values may contain
// '='; keys may not be empty or repeated.
func ParseArgs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: expected key=value", pair)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("argument %q given more than once", key)
		}
		out[key] = value
	}
	return out, nil
}

// CoerceArgs converts string arguments to the types the tool's input schema
// declares. Keys the schema does not know are passed through as strings and
// left for the server to reject.
func CoerceArgs(tool mcp.Tool, raw map[string]string) (map[string]interface{}, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(raw))
	for _, key := range keys {
		value := raw[key]
		switch propertyType(tool, key) {
		case "integer":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("argument %s must be an integer, got %q", key, value)
			}
			out[key] = n
		case "boolean":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("argument %s must be true or false, got %q", key, value)
			}
			out[key] = b
		default:
			out[key] = value
		}
	}
	return out, nil
}

func propertyType(tool mcp.Tool, key string) string {
	prop, ok := tool.InputSchema.Properties[key].(map[string]interface{})
	if !ok {
		return ""
	}
	typ, _ := prop["type"].(string)
	return typ
}
