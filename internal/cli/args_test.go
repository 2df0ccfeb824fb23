package cli

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr string
	}{
		{
			name:  "simple",
			pairs: []string{"vm_name=web", "force=true"},
			want:  map[string]string{"vm_name": "web", "force": "true"},
		},
		{
			name:  "value keeps equals signs",
			pairs: []string{"description=a=b"},
			want:  map[string]string{"description": "a=b"},
		},
		{
			name:  "empty value",
			pairs: []string{"description="},
			want:  map[string]string{"description": ""},
		},
		{name: "missing equals", pairs: []string{"web"}, wantErr: "expected key=value"},
		{name: "empty key", pairs: []string{"=web"}, wantErr: "expected key=value"},
		{name: "repeated key", pairs: []string{"vm_name=a", "vm_name=b"}, wantErr: "more than once"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.pairs)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceArgs(t *testing.T) {
	tool := mcp.Tool{
		Name: "vm_management",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"vm_name":         map[string]interface{}{"type": "string"},
				"memory_mb":       map[string]interface{}{"type": "integer"},
				"force":           map[string]interface{}{"type": "boolean"},
				"timeout_seconds": map[string]interface{}{"type": "integer"},
			},
		},
	}

	got, err := CoerceArgs(tool, map[string]string{
		"vm_name":   "1234",
		"memory_mb": "2048",
		"force":     "true",
		"extra":     "kept",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"vm_name":   "1234",
		"memory_mb": 2048,
		"force":     true,
		"extra":     "kept",
	}, got)

	_, err = CoerceArgs(tool, map[string]string{"memory_mb": "2G"})
	assert.EqualError(t, err, `argument memory_mb must be an integer, got "2G"`)

	_, err = CoerceArgs(tool, map[string]string{"force": "maybe"})
	assert.EqualError(t, err, `argument force must be true or false, got "maybe"`)
}
