package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/orchestrator"
	"virtmcp/internal/scheduler"
	"virtmcp/internal/testing/mock"
)

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *callRecorder) ObserveCall(tool, action, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, tool+"."+action+":"+outcome)
}

func newTestDispatcher(t *testing.T, cfg Config, vms ...string) (*Dispatcher, *mock.FakeVBox) {
	t.Helper()
	fake := mock.NewFakeVBox()
	for i := 0; i+1 < len(vms); i += 2 {
		fake.AddVM(vms[i], vms[i+1])
	}
	o := orchestrator.New(orchestrator.Config{
		Backend:          hypervisor.NewVirtualBox("VBoxManage", "", fake),
		Scheduler:        scheduler.New(8, nil),
		ReconcileTimeout: 2 * time.Second,
	})
	require.NoError(t, o.Sync(context.Background()))
	fake.ResetCalls()

	cfg.VirtualBox = o
	return New(cfg), fake
}

func dataMap(t *testing.T, env api.Envelope) map[string]interface{} {
	t.Helper()
	require.True(t, env.Success, "expected success, got %+v", env.Error)
	res := env.ToCallToolResult()
	parsed, err := api.ParseEnvelope(res.Content[0].(string))
	require.NoError(t, err)
	m, ok := parsed.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", parsed.Data)
	return m
}

func requireKind(t *testing.T, env api.Envelope, kind api.ErrorKind) {
	t.Helper()
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, kind, env.Error.Kind, env.Error.Message)
}

func TestGetTools(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{})

	tools := d.GetTools()
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"vm_management", "snapshot_management", "network_management", "storage_management", "system_management"}, names)

	vmTool := tools[0]
	require.NotEmpty(t, vmTool.Parameters)
	action := vmTool.Parameters[0]
	assert.Equal(t, "action", action.Name)
	assert.True(t, action.Required)
	assert.Equal(t, []string{"clone", "create", "delete", "info", "list", "pause", "reset", "resume", "save", "start", "stop"}, action.Enum)

	for _, p := range vmTool.Parameters[1:] {
		assert.False(t, p.Required, "%s must not be required at tool level", p.Name)
	}
	assert.Contains(t, vmTool.Description, "- create:")
}

func TestGetTools_HyperVWhenEnabled(t *testing.T) {
	hv := orchestrator.New(orchestrator.Config{
		Backend:   hypervisor.NewHyperV("powershell", mock.NewFakeVBox()),
		KeyPrefix: "hyperv/",
	})
	d, _ := newTestDispatcher(t, Config{HyperV: hv})

	tool, ok := d.Tool("hyperv_management")
	require.True(t, ok)
	assert.Equal(t, []string{"get", "list", "start", "stop"}, tool.Actions())
}

func TestDispatch_RejectedBeforeExecution(t *testing.T) {
	d, fake := newTestDispatcher(t, Config{}, "web", "running")
	ctx := context.Background()

	tests := []struct {
		name  string
		tool  string
		args  map[string]interface{}
		kind  api.ErrorKind
		field string
	}{
		{"unknown action", "vm_management", map[string]interface{}{"action": "explode", "vm_name": "web"}, api.KindValidation, "action"},
		{"missing action", "vm_management", map[string]interface{}{"vm_name": "web"}, api.KindValidation, "action"},
		{"non-string action", "vm_management", map[string]interface{}{"action": 3.0}, api.KindValidation, "action"},
		{"unknown tool", "disk_management", map[string]interface{}{"action": "list"}, api.KindNotFound, ""},
		{"missing vm_name", "vm_management", map[string]interface{}{"action": "start"}, api.KindValidation, "vm_name"},
		{"wrong type", "vm_management", map[string]interface{}{"action": "start", "vm_name": 42.0}, api.KindValidation, "vm_name"},
		{"fractional integer", "vm_management", map[string]interface{}{"action": "create", "vm_name": "x", "memory_mb": 2048.5}, api.KindValidation, "memory_mb"},
		{"integer below minimum", "vm_management", map[string]interface{}{"action": "create", "vm_name": "x", "cpus": 0.0}, api.KindValidation, "cpus"},
		{"adapter slot out of range", "network_management", map[string]interface{}{"action": "configure_adapter", "vm_name": "web", "adapter_slot": 9.0}, api.KindValidation, "adapter_slot"},
		{"bad attachment mode", "network_management", map[string]interface{}{"action": "configure_adapter", "vm_name": "web", "adapter_slot": 1.0, "network_type": "wifi"}, api.KindValidation, "network_type"},
		{"bad protocol", "network_management", map[string]interface{}{"action": "add_port_forward", "vm_name": "web", "rule_name": "ssh", "protocol": "icmp", "host_port": 2222.0, "guest_port": 22.0}, api.KindValidation, "protocol"},
		{"port out of range", "network_management", map[string]interface{}{"action": "add_port_forward", "vm_name": "web", "rule_name": "ssh", "host_port": 70000.0, "guest_port": 22.0}, api.KindValidation, "host_port"},
		{"unknown parameter", "vm_management", map[string]interface{}{"action": "start", "vm_name": "web", "turbo": true}, api.KindValidation, "turbo"},
		{"bad filter", "vm_management", map[string]interface{}{"action": "list", "filter": "sleeping"}, api.KindValidation, "filter"},
		{"linked clone without snapshot", "vm_management", map[string]interface{}{"action": "clone", "source_vm": "web", "new_vm_name": "copy", "linked": true}, api.KindValidation, "snapshot_name"},
		{"bad disk size", "storage_management", map[string]interface{}{"action": "create_disk", "disk_path": "/tmp/a.vdi", "size": "lots"}, api.KindValidation, "size"},
		{"unknown vm", "vm_management", map[string]interface{}{"action": "info", "vm_name": "ghost"}, api.KindNotFound, ""},
		{"start running vm", "vm_management", map[string]interface{}{"action": "start", "vm_name": "web"}, api.KindStateConflict, ""},
		{"configure running vm", "network_management", map[string]interface{}{"action": "configure_adapter", "vm_name": "web", "adapter_slot": 2.0, "network_type": "nat"}, api.KindStateConflict, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := d.Dispatch(ctx, tt.tool, tt.args)
			requireKind(t, env, tt.kind)
			if tt.field != "" {
				assert.Contains(t, env.Error.Message, tt.field)
			}
			assert.Zero(t, fake.CallCount(""), "no command may run")
		})
	}
}

func TestDispatch_CreateReturnsPoweredOff(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{})

	env := d.Dispatch(context.Background(), "vm_management", map[string]interface{}{
		"action":    "create",
		"vm_name":   "test1",
		"memory_mb": 2048.0,
		"cpus":      2.0,
	})
	data := dataMap(t, env)
	assert.Equal(t, "test1", data["name"])
	assert.Equal(t, "PoweredOff", data["state"])
	assert.Equal(t, 2048.0, data["memory_mb"])
}

func TestDispatch_SnapshotLifecycle(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{}, "test1", "poweroff")
	ctx := context.Background()

	for _, name := range []string{"s0", "s1"} {
		env := d.Dispatch(ctx, "snapshot_management", map[string]interface{}{"action": "create", "vm_name": "test1", "snapshot_name": name})
		data := dataMap(t, env)
		assert.Equal(t, name, data["snapshot"].(map[string]interface{})["name"])
	}

	data := dataMap(t, d.Dispatch(ctx, "snapshot_management", map[string]interface{}{"action": "list", "vm_name": "test1"}))
	assert.Equal(t, 2.0, data["count"])

	env := d.Dispatch(ctx, "snapshot_management", map[string]interface{}{"action": "restore", "vm_name": "test1", "snapshot_name": "missing"})
	requireKind(t, env, api.KindNotFound)

	data = dataMap(t, d.Dispatch(ctx, "snapshot_management", map[string]interface{}{"action": "delete", "vm_name": "test1", "snapshot_name": "s1"}))
	assert.Equal(t, 1.0, data["count"])
}

func TestDispatch_PortForwarding(t *testing.T) {
	d, fake := newTestDispatcher(t, Config{}, "web", "running")
	ctx := context.Background()

	env := d.Dispatch(ctx, "network_management", map[string]interface{}{
		"action":     "add_port_forward",
		"vm_name":    "web",
		"rule_name":  "ssh",
		"host_port":  2222.0,
		"guest_port": 22.0,
	})
	data := dataMap(t, env)
	forwards := data["port_forwards"].([]interface{})
	require.Len(t, forwards, 1)
	rule := forwards[0].(map[string]interface{})
	assert.Equal(t, "ssh", rule["name"])
	assert.Equal(t, "tcp", rule["protocol"])
	assert.Equal(t, 2222.0, rule["host_port"])

	calls := fake.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, []string{"controlvm", "web", "natpf1", "ssh,tcp,,2222,,22"}, calls[0].Args)

	env = d.Dispatch(ctx, "network_management", map[string]interface{}{
		"action": "add_port_forward", "vm_name": "web", "rule_name": "ssh", "host_port": 2223.0, "guest_port": 22.0,
	})
	requireKind(t, env, api.KindStateConflict)

	env = d.Dispatch(ctx, "network_management", map[string]interface{}{"action": "remove_port_forward", "vm_name": "web", "rule_name": "http"})
	requireKind(t, env, api.KindNotFound)

	data = dataMap(t, d.Dispatch(ctx, "network_management", map[string]interface{}{"action": "remove_port_forward", "vm_name": "web", "rule_name": "ssh"}))
	assert.Empty(t, data["port_forwards"])
}

func TestDispatch_ConfigureAdapter(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{}, "web", "poweroff")

	env := d.Dispatch(context.Background(), "network_management", map[string]interface{}{
		"action":           "configure_adapter",
		"vm_name":          "web",
		"adapter_slot":     2.0,
		"network_type":     "hostonly",
		"hostonly_adapter": "vboxnet0",
	})
	data := dataMap(t, env)
	assert.Equal(t, 2.0, data["slot"])
	assert.Equal(t, "hostonly", data["mode"])
	assert.Equal(t, "vboxnet0", data["hostonly_adapter"])

	env = d.Dispatch(context.Background(), "network_management", map[string]interface{}{
		"action": "configure_adapter", "vm_name": "web", "adapter_slot": 3.0, "network_type": "bridged",
	})
	requireKind(t, env, api.KindValidation)
}

func TestDispatch_Storage(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{}, "web", "poweroff")
	ctx := context.Background()

	data := dataMap(t, d.Dispatch(ctx, "storage_management", map[string]interface{}{
		"action": "create_controller", "vm_name": "web", "controller_name": "SATA", "controller_type": "sata", "port_count": 4.0,
	}))
	assert.Equal(t, "SATA", data["name"])
	assert.Equal(t, "sata", data["bus"])
	assert.Equal(t, "IntelAhci", data["chipset"])

	data = dataMap(t, d.Dispatch(ctx, "storage_management", map[string]interface{}{
		"action": "create_disk", "disk_path": "/vms/web.vdi", "size": "20G",
	}))
	assert.Equal(t, 20480.0, data["size_mb"])
	assert.Equal(t, "VDI", data["format"])
	assert.NotEmpty(t, data["uuid"])

	data = dataMap(t, d.Dispatch(ctx, "storage_management", map[string]interface{}{
		"action": "attach_disk", "vm_name": "web", "controller_name": "SATA", "disk_path": "/vms/web.vdi",
	}))
	attachments := data["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	assert.Equal(t, "/vms/web.vdi", attachments[0].(map[string]interface{})["medium"])

	env := d.Dispatch(ctx, "storage_management", map[string]interface{}{
		"action": "attach_disk", "vm_name": "web", "controller_name": "IDE", "disk_path": "/vms/web.vdi",
	})
	requireKind(t, env, api.KindNotFound)

	env = d.Dispatch(ctx, "storage_management", map[string]interface{}{"action": "list_disks"})
	require.True(t, env.Success)
}

func TestDispatch_System(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{})
	ctx := context.Background()

	data := dataMap(t, d.Dispatch(ctx, "system_management", map[string]interface{}{"action": "version"}))
	assert.Equal(t, "7.0.14r161095", data["version"])
	assert.Equal(t, "virtualbox", data["backend"])

	data = dataMap(t, d.Dispatch(ctx, "system_management", map[string]interface{}{"action": "host_info"}))
	host := data["host"].(map[string]interface{})
	assert.Equal(t, 8.0, host["processor_count"])
	assert.Equal(t, 32768.0, host["memory_mb"])
}

func TestDispatch_StopTimeoutParameter(t *testing.T) {
	d, fake := newTestDispatcher(t, Config{}, "test1", "running")
	fake.FailNext("controlvm", mock.Fault{Hang: true, Apply: true})

	env := d.Dispatch(context.Background(), "vm_management", map[string]interface{}{
		"action":          "stop",
		"vm_name":         "test1",
		"force":           true,
		"timeout_seconds": 1.0,
	})
	requireKind(t, env, api.KindTimeout)

	data := dataMap(t, d.Dispatch(context.Background(), "vm_management", map[string]interface{}{"action": "info", "vm_name": "test1"}))
	assert.Equal(t, "PoweredOff", data["state"])
}

func TestDispatch_ConfiguredTimeout(t *testing.T) {
	timeouts := NewTimeouts(TimeoutTable{Default: time.Minute, Actions: map[string]time.Duration{"vm_management.start": 200 * time.Millisecond}})
	d, fake := newTestDispatcher(t, Config{Timeouts: timeouts}, "test1", "poweroff")
	fake.FailNext("startvm", mock.Fault{Hang: true})

	env := d.Dispatch(context.Background(), "vm_management", map[string]interface{}{"action": "start", "vm_name": "test1"})
	requireKind(t, env, api.KindTimeout)
}

func TestDispatch_RateLimited(t *testing.T) {
	d, fake := newTestDispatcher(t, Config{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})
	ctx := context.Background()

	env := d.Dispatch(ctx, "system_management", map[string]interface{}{"action": "version"})
	require.True(t, env.Success)

	env = d.Dispatch(ctx, "system_management", map[string]interface{}{"action": "version"})
	requireKind(t, env, api.KindResourceLimit)
	assert.Equal(t, 1, fake.CallCount("--version"))
}

func TestDispatch_PanicBecomesInternal(t *testing.T) {
	recorder := &callRecorder{}
	d, _ := newTestDispatcher(t, Config{Observer: recorder})
	d.register(newTool("broken", "panics", &Action{
		Name: "explode",
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			panic("boom")
		},
	}))

	env := d.Dispatch(context.Background(), "broken", map[string]interface{}{"action": "explode"})
	requireKind(t, env, api.KindInternal)
	assert.NotContains(t, env.Error.Message, "boom")
	assert.Equal(t, []string{"broken.explode:Internal"}, recorder.calls)
}

func TestExecuteTool_RendersEnvelope(t *testing.T) {
	recorder := &callRecorder{}
	d, _ := newTestDispatcher(t, Config{Observer: recorder}, "web", "poweroff")

	res, err := d.ExecuteTool(context.Background(), "vm_management", map[string]interface{}{"action": "start", "vm_name": "web"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	env, err := api.ParseEnvelope(res.Content[0].(string))
	require.NoError(t, err)
	assert.True(t, env.Success)

	res, err = d.ExecuteTool(context.Background(), "vm_management", map[string]interface{}{"action": "start", "vm_name": "web"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	assert.Equal(t, []string{"vm_management.start:success", "vm_management.start:StateConflict"}, recorder.calls)
}

func TestTimeouts_Precedence(t *testing.T) {
	h := NewTimeouts(TimeoutTable{
		Default: time.Minute,
		Tools:   map[string]time.Duration{"vm_management": 2 * time.Minute},
		Actions: map[string]time.Duration{"vm_management.stop": 3 * time.Minute},
	})

	assert.Equal(t, 3*time.Minute, h.For("vm_management", "stop"))
	assert.Equal(t, 2*time.Minute, h.For("vm_management", "start"))
	assert.Equal(t, time.Minute, h.For("snapshot_management", "create"))

	h.Set(TimeoutTable{Default: 5 * time.Second})
	assert.Equal(t, 5*time.Second, h.For("vm_management", "stop"))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"20G", 20480, false},
		{"512M", 512, false},
		{"1GiB", 1024, false},
		{"lots", 0, true},
		{"100", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, api.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
