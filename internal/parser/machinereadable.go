package parser

import (
	"bufio"
	"strconv"
	"strings"
)

// Pair is one key/value line of --machinereadable output.
type Pair struct {
	Key   string
	Value string
}

// KeyValues is ordered machine-readable output. Order matters because some
// keys (Forwarding(n)) belong to the adapter block they follow.
type KeyValues []Pair

// Get returns the first value stored under key.
func (kv KeyValues) Get(key string) (string, bool) {
	for _, p := range kv {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// String returns the value under key or "".
func (kv KeyValues) String(key string) string {
	v, _ := kv.Get(key)
	return v
}

// Int returns the value under key as an int, or 0 when absent or malformed.
func (kv KeyValues) Int(key string) int {
	v, ok := kv.Get(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

// Map flattens the pairs, keeping the first occurrence of each key.
func (kv KeyValues) Map() map[string]string {
	m := make(map[string]string, len(kv))
	for _, p := range kv {
		if _, exists := m[p.Key]; !exists {
			m[p.Key] = p.Value
		}
	}
	return m
}

// ParseKeyValues parses `key="value"` lines as printed by VBoxManage with
// --machinereadable. Keys and values may or may not be quoted. Lines without
// a separator (continuations of multi-line descriptions) are skipped.
func ParseKeyValues(output string) KeyValues {
	var pairs KeyValues
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs
}

func splitKeyValue(line string) (string, string, bool) {
	var key, rest string
	if strings.HasPrefix(line, `"`) {
		end := strings.Index(line[1:], `"`)
		if end < 0 {
			return "", "", false
		}
		key = line[1 : end+1]
		rest = line[end+2:]
		if !strings.HasPrefix(rest, "=") {
			return "", "", false
		}
		rest = rest[1:]
	} else {
		idx := strings.Index(line, "=")
		if idx <= 0 {
			return "", "", false
		}
		key = line[:idx]
		rest = line[idx+1:]
	}
	return strings.TrimSpace(key), unquote(rest), true
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}
