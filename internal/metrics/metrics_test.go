package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtmcp/internal/dispatcher"
	"virtmcp/internal/executor"
	"virtmcp/internal/scheduler"
	"virtmcp/internal/vm"
)

var (
	_ executor.Observer      = (*Metrics)(nil)
	_ executor.RetryObserver = (*Metrics)(nil)
	_ vm.DriftObserver       = (*Metrics)(nil)
	_ scheduler.Observer     = (*Metrics)(nil)
	_ dispatcher.Observer    = (*Metrics)(nil)
)

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveCommand("VBoxManage startvm", "success", 2*time.Second)
	m.ObserveCommand("VBoxManage startvm", "success", time.Second)
	m.ObserveCommand("VBoxManage startvm", "Execution", time.Second)
	m.ObserveRetry("VBoxManage startvm")
	m.ObserveDrift("web", vm.StatePoweredOff, vm.StateSaved)
	m.ObserveOperation("start", "completed", time.Second)
	m.SetInFlight(3)
	m.ObserveCall("vm_management", "start", "success", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("VBoxManage startvm", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("VBoxManage startvm", "Execution")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("VBoxManage startvm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drift.WithLabelValues("PoweredOff", "Saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("start", "completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("vm_management", "start", "success")))
}

func TestWatchRegistry(t *testing.T) {
	m := New()
	r := vm.NewRegistry()
	require.NoError(t, r.Insert(&vm.VM{Name: "a", State: vm.StateRunning}))
	require.NoError(t, r.Insert(&vm.VM{Name: "b", State: vm.StateRunning}))
	require.NoError(t, r.Insert(&vm.VM{Name: "c", State: vm.StatePoweredOff}))

	m.WatchRegistry(r)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `virtmcp_vms{state="Running"} 2`)
	assert.Contains(t, string(body), `virtmcp_vms{state="PoweredOff"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
