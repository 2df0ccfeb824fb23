package dispatcher

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"virtmcp/internal/api"
)

// Parameter types understood by the validator.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

func intPtr(v int) *int { return &v }

// validate checks args against params and returns a normalized copy in which
// integers are ints and absent parameters with defaults are filled in. The
// first violation, in declaration order, is returned as a field-level
// ValidationError. Keys not declared by the action are rejected; nil values
// count as absent.
func validate(action string, params []api.ParameterMetadata, args map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(params))
	declared := make(map[string]bool, len(params))

	for _, p := range params {
		declared[p.Name] = true
		raw, present := args[p.Name]
		if !present || raw == nil {
			if p.Required {
				return nil, api.NewValidationError(p.Name, fmt.Sprintf("is required for action %s", action))
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}

		value, err := coerce(p, raw)
		if err != nil {
			return nil, err
		}
		out[p.Name] = value
	}

	var unknown []string
	for key, value := range args {
		if key == actionParam || declared[key] || value == nil {
			continue
		}
		unknown = append(unknown, key)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, api.NewValidationError(unknown[0], fmt.Sprintf("is not a parameter of action %s", action))
	}
	return out, nil
}

func coerce(p api.ParameterMetadata, raw interface{}) (interface{}, error) {
	switch p.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, typeError(p, raw)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return nil, api.NewValidationError(p.Name, fmt.Sprintf("must be one of %s, got %q", strings.Join(p.Enum, ", "), s))
		}
		return s, nil

	case TypeInteger:
		n, ok := toInt(raw)
		if !ok {
			return nil, typeError(p, raw)
		}
		if p.Minimum != nil && n < *p.Minimum {
			return nil, api.NewValidationError(p.Name, rangeMessage(p, n))
		}
		if p.Maximum != nil && n > *p.Maximum {
			return nil, api.NewValidationError(p.Name, rangeMessage(p, n))
		}
		return n, nil

	case TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, typeError(p, raw)
		}
		return b, nil
	}
	return nil, fmt.Errorf("parameter %s has unsupported type %q", p.Name, p.Type)
}

func toInt(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

func typeError(p api.ParameterMetadata, raw interface{}) error {
	return api.NewValidationError(p.Name, fmt.Sprintf("must be %s, got %T", article(p.Type), raw))
}

func article(typ string) string {
	if typ == TypeInteger {
		return "an integer"
	}
	return "a " + typ
}

func rangeMessage(p api.ParameterMetadata, n int) string {
	switch {
	case p.Minimum != nil && p.Maximum != nil:
		return fmt.Sprintf("must be between %d and %d, got %d", *p.Minimum, *p.Maximum, n)
	case p.Minimum != nil:
		return fmt.Sprintf("must be at least %d, got %d", *p.Minimum, n)
	default:
		return fmt.Sprintf("must be at most %d, got %d", *p.Maximum, n)
	}
}

// decode copies validated arguments into the action's typed parameter
// struct.
func decode(args map[string]interface{}, into interface{}) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	return nil
}

// unionParameters merges the parameters of every action into the tool-level
// schema. Only the action discriminator is required at that level; per-action
// requirements are enforced at dispatch time and listed in the description.
func unionParameters(t *Tool) []api.ParameterMetadata {
	actionNames := t.Actions()
	params := []api.ParameterMetadata{{
		Name:        actionParam,
		Type:        TypeString,
		Required:    true,
		Description: "Operation to perform",
		Enum:        actionNames,
	}}

	index := make(map[string]int)
	usedBy := make(map[string][]string)
	for _, name := range actionNames {
		for _, p := range t.actions[name].Params {
			usedBy[p.Name] = append(usedBy[p.Name], name)
			if _, seen := index[p.Name]; seen {
				continue
			}
			merged := p
			merged.Required = false
			merged.Default = nil
			index[p.Name] = len(params)
			params = append(params, merged)
		}
	}
	for name, i := range index {
		params[i].Description = fmt.Sprintf("%s (used by: %s)", params[i].Description, strings.Join(usedBy[name], ", "))
	}
	return params
}
