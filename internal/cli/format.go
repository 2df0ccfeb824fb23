package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	strs "virtmcp/pkg/strings"
)

// OutputFormat represents the supported output formats for CLI commands.
type OutputFormat string

const (
	// OutputFormatTable renders VM and snapshot lists as tables and
	// everything else as key/value pairs.
	OutputFormatTable OutputFormat = "table"
	// OutputFormatJSON prints the envelope data as indented JSON.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML prints the envelope data as YAML.
	OutputFormatYAML OutputFormat = "yaml"
)

// ValidateOutputFormat validates that the given format string is a supported output format.
func ValidateOutputFormat(format string) error {
	switch OutputFormat(format) {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format: %q (valid: table, json, yaml)", format)
	}
}

// Render writes the data of a successful envelope to out.
func Render(out io.Writer, format OutputFormat, data interface{}) error {
	switch format {
	case OutputFormatJSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		_, err = fmt.Fprintln(out, string(b))
		return err
	case OutputFormatYAML:
		b, err := yaml.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to convert to YAML: %w", err)
		}
		_, err = out.Write(b)
		return err
	case OutputFormatTable, "":
		return renderTable(out, data)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderTable(out io.Writer, data interface{}) error {
	obj, ok := data.(map[string]interface{})
	if !ok {
		_, err := fmt.Fprintln(out, cellValue(data))
		return err
	}
	if vms, ok := obj["vms"].([]interface{}); ok {
		return renderVMs(out, vms)
	}
	if snaps, ok := obj["snapshots"].([]interface{}); ok {
		return renderSnapshots(out, snaps)
	}
	return renderObject(out, obj)
}

func renderVMs(out io.Writer, vms []interface{}) error {
	if len(vms) == 0 {
		_, err := fmt.Fprintln(out, "No VMs found")
		return err
	}
	t := newTable(out)
	t.AppendHeader(table.Row{"NAME", "STATE", "CPUS", "MEMORY", "OS TYPE", "SNAPSHOTS"})
	for _, item := range vms {
		v, _ := item.(map[string]interface{})
		t.AppendRow(table.Row{
			cellValue(v["name"]),
			stateCell(v["state"]),
			cellValue(v["cpus"]),
			memoryCell(v["memory_mb"]),
			cellValue(v["os_type"]),
			cellValue(v["snapshot_count"]),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "TOTAL", len(vms)})
	t.Render()
	return nil
}

func renderSnapshots(out io.Writer, snaps []interface{}) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(out, "No snapshots found")
		return err
	}
	t := newTable(out)
	t.AppendHeader(table.Row{"NAME", "PARENT", "CURRENT", "ONLINE", "AGE"})
	for _, item := range snaps {
		s, _ := item.(map[string]interface{})
		name := cellValue(s["name"])
		if depth, _ := s["depth"].(float64); depth > 0 {
			name = strings.Repeat("  ", int(depth)-1) + "└─ " + name
		}
		current := ""
		if c, _ := s["is_current"].(bool); c {
			current = text.FgGreen.Sprint("*")
		}
		t.AppendRow(table.Row{
			name,
			cellValue(s["parent"]),
			current,
			cellValue(s["online"]),
			ageCell(s["created_at"]),
		})
	}
	t.Render()
	return nil
}

func renderObject(out io.Writer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := newTable(out)
	t.AppendHeader(table.Row{"KEY", "VALUE"})
	for _, k := range keys {
		value := cellValue(obj[k])
		switch k {
		case "state", "previous_state":
			value = stateCell(obj[k])
		case "memory_mb":
			value = memoryCell(obj[k])
		}
		t.AppendRow(table.Row{k, value})
	}
	t.Render()
	return nil
}

func cellValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if val == "" {
			return "-"
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return strs.Truncate(string(b), strs.CellMaxLen)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func stateCell(v interface{}) string {
	s := cellValue(v)
	switch s {
	case "Running":
		return text.FgGreen.Sprint(s)
	case "Paused", "Saved":
		return text.FgYellow.Sprint(s)
	case "Aborted", "Unknown":
		return text.FgRed.Sprint(s)
	default:
		return s
	}
}

func memoryCell(v interface{}) string {
	mb, ok := v.(float64)
	if !ok || mb <= 0 {
		return "-"
	}
	return units.BytesSize(mb * units.MiB)
}

func ageCell(v interface{}) string {
	s, _ := v.(string)
	created, err := time.Parse(time.RFC3339, s)
	if err != nil || created.IsZero() {
		return "-"
	}
	return units.HumanDuration(time.Since(created)) + " ago"
}

// RenderTools writes the tools a server advertises with their actions.
func RenderTools(out io.Writer, format OutputFormat, tools map[string]mcp.Tool) error {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	if format != OutputFormatTable && format != "" {
		summary := make([]map[string]interface{}, 0, len(names))
		for _, name := range names {
			summary = append(summary, map[string]interface{}{
				"name":        name,
				"description": tools[name].Description,
				"actions":     toolActions(tools[name]),
			})
		}
		return Render(out, format, summary)
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"TOOL", "ACTIONS", "DESCRIPTION"})
	for _, name := range names {
		tool := tools[name]
		t.AppendRow(table.Row{
			name,
			strings.Join(toolActions(tool), ", "),
			strs.Summary(tool.Description, strs.DescriptionMaxLen),
		})
	}
	t.Render()
	return nil
}

// toolActions reads the action enum from a tool's input schema.
func toolActions(tool mcp.Tool) []string {
	prop, ok := tool.InputSchema.Properties["action"].(map[string]interface{})
	if !ok {
		return nil
	}
	var actions []string
	switch enum := prop["enum"].(type) {
	case []interface{}:
		for _, a := range enum {
			if s, ok := a.(string); ok {
				actions = append(actions, s)
			}
		}
	case []string:
		actions = append(actions, enum...)
	}
	return actions
}
