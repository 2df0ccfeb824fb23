package hypervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtmcp/internal/api"
	"virtmcp/internal/executor"
	"virtmcp/internal/vm"
)

// scriptedRunner records commands and answers them from a table keyed by
// the first argument.
type scriptedRunner struct {
	mu      sync.Mutex
	calls   []executor.Command
	results map[string]executor.Result
	errs    map[string]error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		results: make(map[string]executor.Result),
		errs:    make(map[string]error),
	}
}

func (r *scriptedRunner) key(cmd executor.Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	if cmd.Args[0] == "-NoProfile" {
		return cmd.Label
	}
	return cmd.Args[0]
}

func (r *scriptedRunner) Run(_ context.Context, cmd executor.Command) (executor.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)
	k := r.key(cmd)
	return r.results[k], r.errs[k]
}

func (r *scriptedRunner) args() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Args
	}
	return out
}

func execErr(stderr string) error {
	return &api.ExecutionError{Command: "VBoxManage", ExitCode: 1, Stderr: stderr}
}

func boolPtr(b bool) *bool { return &b }

func TestVirtualBox_CommandArguments(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		call func(v *VirtualBox) error
		want []string
	}{
		{
			name: "headless start",
			call: func(v *VirtualBox) error { return v.Start(ctx, "web", true) },
			want: []string{"startvm", "web", "--type", "headless"},
		},
		{
			name: "gui start",
			call: func(v *VirtualBox) error { return v.Start(ctx, "web", false) },
			want: []string{"startvm", "web", "--type", "gui"},
		},
		{
			name: "graceful stop",
			call: func(v *VirtualBox) error { return v.Stop(ctx, "web", false) },
			want: []string{"controlvm", "web", "acpipowerbutton"},
		},
		{
			name: "forced stop",
			call: func(v *VirtualBox) error { return v.Stop(ctx, "web", true) },
			want: []string{"controlvm", "web", "poweroff"},
		},
		{
			name: "save",
			call: func(v *VirtualBox) error { return v.Save(ctx, "web") },
			want: []string{"controlvm", "web", "savestate"},
		},
		{
			name: "delete",
			call: func(v *VirtualBox) error { return v.Delete(ctx, "web") },
			want: []string{"unregistervm", "web", "--delete"},
		},
		{
			name: "linked clone",
			call: func(v *VirtualBox) error {
				return v.Clone(ctx, CloneSpec{Source: "web", Name: "web-2", Snapshot: "base", Linked: true})
			},
			want: []string{"clonevm", "web", "--name", "web-2", "--register", "--snapshot", "base", "--options", "link"},
		},
		{
			name: "live snapshot",
			call: func(v *VirtualBox) error {
				_, err := v.TakeSnapshot(ctx, "web", SnapshotSpec{Name: "s1", Description: "before upgrade", Live: true})
				return err
			},
			want: []string{"snapshot", "web", "take", "s1", "--description", "before upgrade", "--live"},
		},
		{
			name: "internal network adapter",
			call: func(v *VirtualBox) error {
				return v.ConfigureAdapter(ctx, "web", AdapterConfig{
					Slot:            2,
					Mode:            vm.AttachmentInternal,
					InternalNetwork: "lab",
					CableConnected:  boolPtr(false),
				})
			},
			want: []string{"modifyvm", "web", "--nic2", "intnet", "--intnet2", "lab", "--cableconnected2", "off"},
		},
		{
			name: "port forward on stopped vm",
			call: func(v *VirtualBox) error {
				return v.AddPortForward(ctx, "web", 1, vm.PortForwardingRule{Name: "ssh", Protocol: "tcp", HostPort: 2222, GuestPort: 22}, false)
			},
			want: []string{"modifyvm", "web", "--natpf1", "ssh,tcp,,2222,,22"},
		},
		{
			name: "port forward removal on running vm",
			call: func(v *VirtualBox) error { return v.RemovePortForward(ctx, "web", 1, "ssh", true) },
			want: []string{"controlvm", "web", "natpf1", "delete", "ssh"},
		},
		{
			name: "controller",
			call: func(v *VirtualBox) error {
				return v.CreateController(ctx, "web", ControllerSpec{Name: "SATA", Bus: "sata", Chipset: "IntelAhci", PortCount: 4})
			},
			want: []string{"storagectl", "web", "--name", "SATA", "--add", "sata", "--controller", "IntelAhci", "--portcount", "4"},
		},
		{
			name: "disk defaults to VDI",
			call: func(v *VirtualBox) error {
				_, err := v.CreateDisk(ctx, DiskSpec{Path: "/vms/data.vdi", SizeMB: 20480})
				return err
			},
			want: []string{"createmedium", "disk", "--filename", "/vms/data.vdi", "--size", "20480", "--format", "VDI"},
		},
		{
			name: "attach defaults to hdd",
			call: func(v *VirtualBox) error {
				return v.AttachDisk(ctx, "web", AttachSpec{Controller: "SATA", Port: 1, Medium: "/vms/data.vdi"})
			},
			want: []string{"storageattach", "web", "--storagectl", "SATA", "--port", "1", "--device", "0", "--type", "hdd", "--medium", "/vms/data.vdi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newScriptedRunner()
			require.NoError(t, tt.call(NewVirtualBox("", "", r)))
			require.Len(t, r.calls, 1)
			assert.Equal(t, "VBoxManage", r.calls[0].Path)
			assert.Equal(t, tt.want, r.calls[0].Args)
		})
	}
}

func TestVirtualBox_CreateUsesBaseFolder(t *testing.T) {
	r := newScriptedRunner()
	v := NewVirtualBox("/usr/bin/VBoxManage", "/srv/vms", r)

	require.NoError(t, v.Create(context.Background(), CreateSpec{Name: "web", OSType: "Ubuntu_64", MemoryMB: 2048, CPUs: 2}))
	assert.Equal(t, [][]string{
		{"createvm", "--name", "web", "--register", "--ostype", "Ubuntu_64", "--basefolder", "/srv/vms"},
		{"modifyvm", "web", "--memory", "2048", "--cpus", "2"},
	}, r.args())
}

func TestVirtualBox_CreateUnregistersOnProfileFailure(t *testing.T) {
	r := newScriptedRunner()
	r.errs["modifyvm"] = execErr("VBoxManage: error: Invalid memory size")
	v := NewVirtualBox("", "", r)

	err := v.Create(context.Background(), CreateSpec{Name: "web", MemoryMB: 1})
	require.Error(t, err)
	assert.True(t, api.IsExecution(err))

	calls := r.args()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"unregistervm", "web", "--delete"}, calls[2])
}

func TestVirtualBox_ConfigureAdapterNeedsSettings(t *testing.T) {
	r := newScriptedRunner()
	err := NewVirtualBox("", "", r).ConfigureAdapter(context.Background(), "web", AdapterConfig{Slot: 1})
	assert.True(t, api.IsValidation(err))
	assert.Empty(t, r.calls)
}

func TestVirtualBox_ListSnapshotsWithoutSnapshots(t *testing.T) {
	r := newScriptedRunner()
	r.errs["snapshot"] = execErr("This machine does not have any snapshots")

	records, err := NewVirtualBox("", "", r).ListSnapshots(context.Background(), "web")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		ref      string
		wantType string
		wantName string
		wantMsg  string
	}{
		{
			name:     "missing vm",
			err:      execErr("VBoxManage: error: Could not find a registered machine named 'ghost'\nVBoxManage: error: Details: code VBOX_E_OBJECT_NOT_FOUND (0x80bb0001)\n"),
			wantType: "vm",
			wantName: "web",
			wantMsg:  "vm web not found: VBoxManage: error: Could not find a registered machine named 'ghost'",
		},
		{
			name:     "missing snapshot reports the reference",
			err:      execErr("VBoxManage: error: Could not find a snapshot named 'old'"),
			ref:      "old",
			wantType: "snapshot",
			wantName: "old",
			wantMsg:  "snapshot old not found: VBoxManage: error: Could not find a snapshot named 'old'",
		},
		{
			name:     "missing controller",
			err:      execErr("VBoxManage: error: Could not find a storage controller named 'IDE'"),
			ref:      "IDE",
			wantType: "storage controller",
			wantName: "IDE",
			wantMsg:  "storage controller IDE not found: VBoxManage: error: Could not find a storage controller named 'IDE'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var nf *api.NotFoundError
			require.ErrorAs(t, classify(tt.err, "web", tt.ref), &nf)
			assert.Equal(t, tt.wantType, nf.ResourceType)
			assert.Equal(t, tt.wantName, nf.ResourceName)
			assert.Equal(t, tt.wantMsg, nf.Error())
		})
	}

	t.Run("other errors pass through", func(t *testing.T) {
		locked := execErr("VBoxManage: error: The machine is locked")
		assert.Same(t, locked, classify(locked, "web", ""))

		plain := errors.New("boom")
		assert.Same(t, plain, classify(plain, "web", ""))
		assert.Nil(t, classify(nil, "web", ""))
	})
}

func TestCommandFor(t *testing.T) {
	c := commandFor(context.Background(), "VBoxManage", "VBoxManage list", nil, "list", "vms")
	assert.Zero(t, c.Timeout)
	assert.Equal(t, "VBoxManage list", c.Label)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c = commandFor(ctx, "VBoxManage", "VBoxManage list", nil, "list", "vms")
	assert.Greater(t, c.Timeout, 50*time.Second)
	assert.LessOrEqual(t, c.Timeout, time.Minute)
}

func TestHyperV_PassesNameThroughEnvironment(t *testing.T) {
	r := newScriptedRunner()
	h := NewHyperV("", r)
	name := "lab'; Remove-Item C:\\ -Recurse"

	require.NoError(t, h.Stop(context.Background(), name, true))
	require.Len(t, r.calls, 1)
	c := r.calls[0]
	assert.Equal(t, "powershell", c.Path)
	assert.Equal(t, []string{vmNameEnv + "=" + name}, c.Env)
	script := c.Args[len(c.Args)-1]
	assert.NotContains(t, script, "Remove-Item")
	assert.True(t, strings.HasPrefix(script, "Stop-VM -Name $env:"+vmNameEnv))
	assert.Contains(t, script, "-TurnOff")
}

func TestHyperV_Info(t *testing.T) {
	r := newScriptedRunner()
	r.results["Get-VM"] = executor.Result{Stdout: `{"Name":"dc01","Id":"a1","State":2,"ProcessorCount":2}`}
	h := NewHyperV("pwsh", r)

	d, err := h.Info(context.Background(), "dc01")
	require.NoError(t, err)
	assert.Equal(t, vm.StateRunning, d.State)
	assert.Equal(t, 2, d.CPUs)
	script := r.calls[0].Args[len(r.calls[0].Args)-1]
	assert.Contains(t, script, "$_.State.ToString()")

	_, err = h.Info(context.Background(), "other")
	assert.True(t, api.IsNotFound(err))
}
