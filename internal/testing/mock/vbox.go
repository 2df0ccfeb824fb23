package mock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"virtmcp/internal/api"
	"virtmcp/internal/executor"
)

// Fault is an injected failure for the next invocation of a verb.
type Fault struct {
	ExitCode int
	Stderr   string
	// Hang blocks until the caller's context ends and then reports a
	// timeout, the way the real executor does after killing the process.
	Hang bool
	// Apply performs the command's effect before the fault is reported, as
	// when the hypervisor finished the work but the CLI did not return.
	Apply bool
}

type fakeNIC struct {
	mode     string
	mac      string
	cable    bool
	bridge   string
	hostonly string
	intnet   string
	natnet   string
	forwards []string
}

type fakeController struct {
	name        string
	chipset     string
	portCount   int
	attachments map[string]string
}

type fakeSnapshot struct {
	name        string
	uuid        string
	description string
	online      bool
	parent      *fakeSnapshot
	children    []*fakeSnapshot
}

// FakeVM is the fake hypervisor's view of one machine.
type FakeVM struct {
	Name   string
	UUID   string
	State  string
	Memory int
	CPUs   int
	OSType string

	nics        map[int]*fakeNIC
	controllers []*fakeController
	root        *fakeSnapshot
	current     *fakeSnapshot
}

// FakeVBox is an in-memory VBoxManage. It implements executor.Runner and
// answers the subset of verbs the hypervisor backend issues, with the same
// output formats and error diagnostics as the real tool.
type FakeVBox struct {
	mu      sync.Mutex
	vms     map[string]*FakeVM
	order   []string
	calls   []executor.Command
	faults  map[string][]Fault
	delays  map[string]time.Duration
	gates   map[string]chan struct{}
	media   []string
	nextID  int
	// GracefulStopCompletes controls whether acpipowerbutton powers the VM
	// off immediately. Defaults to true.
	GracefulStopCompletes bool
}

var _ executor.Runner = (*FakeVBox)(nil)

// NewFakeVBox creates an empty fake hypervisor.
func NewFakeVBox() *FakeVBox {
	return &FakeVBox{
		vms:                   make(map[string]*FakeVM),
		faults:                make(map[string][]Fault),
		delays:                make(map[string]time.Duration),
		gates:                 make(map[string]chan struct{}),
		GracefulStopCompletes: true,
	}
}

// AddVM registers a machine in the given raw VBox state ("poweroff",
// "running", ...) with one NAT adapter.
func (f *FakeVBox) AddVM(name, state string) *FakeVM {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addVM(name, state, "Ubuntu_64")
}

func (f *FakeVBox) addVM(name, state, osType string) *FakeVM {
	v := &FakeVM{
		Name:   name,
		UUID:   f.newUUID(),
		State:  state,
		Memory: 1024,
		CPUs:   1,
		OSType: osType,
		nics: map[int]*fakeNIC{
			1: {mode: "nat", mac: "080027AABB01", cable: true},
		},
	}
	f.vms[name] = v
	f.order = append(f.order, name)
	return v
}

func (f *FakeVBox) newUUID() string {
	f.nextID++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", f.nextID)
}

// SetState changes a VM's state behind the orchestrator's back.
func (f *FakeVBox) SetState(name, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vms[name]; ok {
		v.State = state
	}
}

// State returns the raw VBox state of a VM, or "" if it is not registered.
func (f *FakeVBox) State(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vms[name]; ok {
		return v.State
	}
	return ""
}

// Has reports whether the VM is registered.
func (f *FakeVBox) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vms[name]
	return ok
}

// SnapshotCount returns how many snapshots the VM has.
func (f *FakeVBox) SnapshotCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vms[name]
	if !ok || v.root == nil {
		return 0
	}
	n := 0
	var walk func(s *fakeSnapshot)
	walk = func(s *fakeSnapshot) {
		n++
		for _, c := range s.children {
			walk(c)
		}
	}
	walk(v.root)
	return n
}

// FailNext queues a fault for the next invocation of verb (the first
// argument, for example "startvm" or "snapshot").
func (f *FakeVBox) FailNext(verb string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[verb] = append(f.faults[verb], fault)
}

// SetDelay makes every invocation of verb take at least d.
func (f *FakeVBox) SetDelay(verb string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[verb] = d
}

// Block makes invocations of verb wait until the returned function is
// called.
func (f *FakeVBox) Block(verb string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[verb] = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, verb)
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns every command received so far.
func (f *FakeVBox) Calls() []executor.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Command(nil), f.calls...)
}

// CallCount returns how many commands were received, or only those for verb
// when it is non-empty.
func (f *FakeVBox) CallCount(verb string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if verb == "" {
		return len(f.calls)
	}
	n := 0
	for _, c := range f.calls {
		if len(c.Args) > 0 && c.Args[0] == verb {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded commands.
func (f *FakeVBox) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Run implements executor.Runner.
func (f *FakeVBox) Run(ctx context.Context, cmd executor.Command) (executor.Result, error) {
	if len(cmd.Args) == 0 {
		return f.fail(cmd, 1, "VBoxManage: error: Syntax error: no command given")
	}
	verb := cmd.Args[0]

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	delay := f.delays[verb]
	gate := f.gates[verb]
	var fault *Fault
	if queued := f.faults[verb]; len(queued) > 0 {
		fault = &queued[0]
		f.faults[verb] = queued[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return executor.Result{}, timeoutOrCancel(ctx, cmd)
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return executor.Result{}, timeoutOrCancel(ctx, cmd)
		}
	}

	if fault != nil {
		if fault.Apply {
			f.mu.Lock()
			_, _, _ = f.dispatch(cmd.Args)
			f.mu.Unlock()
		}
		if fault.Hang {
			<-ctx.Done()
			return executor.Result{}, timeoutOrCancel(ctx, cmd)
		}
		return f.fail(cmd, fault.ExitCode, fault.Stderr)
	}

	f.mu.Lock()
	stdout, stderr, code := f.dispatch(cmd.Args)
	f.mu.Unlock()

	if code != 0 {
		res := executor.Result{ExitCode: code, Stdout: stdout, Stderr: stderr}
		return res, &api.ExecutionError{Command: cmd.String(), ExitCode: code, Stderr: stderr, Attempts: 1}
	}
	return executor.Result{Stdout: stdout}, nil
}

func (f *FakeVBox) fail(cmd executor.Command, code int, stderr string) (executor.Result, error) {
	if code == 0 {
		code = 1
	}
	res := executor.Result{ExitCode: code, Stderr: stderr}
	return res, &api.ExecutionError{Command: cmd.String(), ExitCode: code, Stderr: stderr, Attempts: 1}
}

func timeoutOrCancel(ctx context.Context, cmd executor.Command) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &api.TimeoutError{Command: cmd.String(), Timeout: cmd.Timeout.String()}
	}
	return fmt.Errorf("%s cancelled: %w", cmd, ctx.Err())
}

func notRegistered(name string) (string, string, int) {
	return "", fmt.Sprintf("VBoxManage: error: Could not find a registered machine named '%s'\n", name), 1
}

func locked(name string) (string, string, int) {
	return "", fmt.Sprintf("VBoxManage: error: The machine '%s' is already locked by a session (or being locked or unlocked)\n", name), 1
}

func notRunning(name string) (string, string, int) {
	return "", fmt.Sprintf("VBoxManage: error: Machine '%s' is not currently running\n", name), 1
}

func notMutable(state string) (string, string, int) {
	return "", fmt.Sprintf("VBoxManage: error: The machine is not mutable (state is %s)\n", state), 1
}

// dispatch executes one command against the in-memory state. Callers hold
// f.mu.
func (f *FakeVBox) dispatch(args []string) (string, string, int) {
	switch args[0] {
	case "--version":
		return "7.0.14r161095\n", "", 0
	case "list":
		return f.list(args[1:])
	case "showvminfo":
		return f.showVMInfo(args[1])
	case "createvm":
		return f.createVM(args[1:])
	case "modifyvm":
		return f.modifyVM(args[1], args[2:])
	case "startvm":
		return f.startVM(args[1])
	case "controlvm":
		return f.controlVM(args[1], args[2:])
	case "unregistervm":
		return f.unregisterVM(args[1])
	case "clonevm":
		return f.cloneVM(args[1], args[2:])
	case "snapshot":
		return f.snapshot(args[1], args[2:])
	case "storagectl":
		return f.storageCtl(args[1], args[2:])
	case "storageattach":
		return f.storageAttach(args[1], args[2:])
	case "createmedium":
		return f.createMedium(args[1:])
	default:
		return "", fmt.Sprintf("VBoxManage: error: Syntax error: unknown command %q\n", args[0]), 1
	}
}

func flagValues(args []string) map[string]string {
	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if !strings.HasPrefix(args[i], "--") {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			out[args[i]] = args[i+1]
			i++
		} else {
			out[args[i]] = ""
		}
	}
	return out
}

func (f *FakeVBox) list(args []string) (string, string, int) {
	if len(args) == 0 {
		return "", "VBoxManage: error: Missing list type\n", 1
	}
	var b strings.Builder
	switch args[0] {
	case "vms":
		for _, name := range f.order {
			fmt.Fprintf(&b, "%q {%s}\n", name, f.vms[name].UUID)
		}
	case "runningvms":
		for _, name := range f.order {
			if f.vms[name].State == "running" {
				fmt.Fprintf(&b, "%q {%s}\n", name, f.vms[name].UUID)
			}
		}
	case "hostinfo":
		b.WriteString("Host Information:\n\nHost time: 2026-01-01T00:00:00.000000000Z\nProcessor online count: 8\nProcessor count: 8\nMemory size: 32768 MByte\nMemory available: 16384 MByte\nOperating system: Linux\nOperating system version: 6.8.0\n")
	case "ostypes":
		b.WriteString("ID:          Ubuntu_64\nDescription: Ubuntu (64-bit)\nFamily ID:   Linux\nFamily Desc: Linux\n64 bit:      true\n\nID:          Windows11_64\nDescription: Windows 11 (64-bit)\nFamily ID:   Windows\nFamily Desc: Microsoft Windows\n64 bit:      true\n")
	case "hostonlyifs":
		b.WriteString("Name:            vboxnet0\nGUID:            786f6276-656e-4074-8000-0a0027000000\nDHCP:            Disabled\nIPAddress:       192.168.56.1\nNetworkMask:     255.255.255.0\nStatus:          Up\n")
	case "hdds":
		for i, path := range f.media {
			fmt.Fprintf(&b, "UUID:           %s\nParent UUID:    base\nState:          created\nLocation:       %s\nStorage format: VDI\nCapacity:       %d MBytes\n\n",
				fmt.Sprintf("10000000-0000-4000-8000-%012d", i+1), path, 1024)
		}
	default:
		return "", fmt.Sprintf("VBoxManage: error: Unknown list type %q\n", args[0]), 1
	}
	return b.String(), "", 0
}

func (f *FakeVBox) showVMInfo(name string) (string, string, int) {
	v, ok := f.vms[name]
	if !ok {
		return notRegistered(name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "name=%q\n", v.Name)
	fmt.Fprintf(&b, "UUID=%q\n", v.UUID)
	fmt.Fprintf(&b, "ostype=%q\n", v.OSType)
	fmt.Fprintf(&b, "memory=%d\n", v.Memory)
	fmt.Fprintf(&b, "cpus=%d\n", v.CPUs)
	fmt.Fprintf(&b, "VMState=%q\n", v.State)

	for i, c := range v.controllers {
		fmt.Fprintf(&b, "storagecontrollername%d=%q\n", i, c.name)
		fmt.Fprintf(&b, "storagecontrollertype%d=%q\n", i, c.chipset)
		fmt.Fprintf(&b, "storagecontrollerportcount%d=%d\n", i, c.portCount)
	}
	for _, c := range v.controllers {
		keys := make([]string, 0, len(c.attachments))
		for k := range c.attachments {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%q=%q\n", c.name+"-"+k, c.attachments[k])
		}
	}

	for slot := 1; slot <= 8; slot++ {
		nic, ok := v.nics[slot]
		if !ok {
			fmt.Fprintf(&b, "nic%d=\"none\"\n", slot)
			continue
		}
		fmt.Fprintf(&b, "nic%d=%q\n", slot, nic.mode)
		fmt.Fprintf(&b, "macaddress%d=%q\n", slot, nic.mac)
		fmt.Fprintf(&b, "cableconnected%d=%q\n", slot, onOff(nic.cable))
		switch nic.mode {
		case "bridged":
			fmt.Fprintf(&b, "bridgeadapter%d=%q\n", slot, nic.bridge)
		case "hostonly":
			fmt.Fprintf(&b, "hostonlyadapter%d=%q\n", slot, nic.hostonly)
		case "intnet":
			fmt.Fprintf(&b, "intnet%d=%q\n", slot, nic.intnet)
		case "natnetwork":
			fmt.Fprintf(&b, "nat-network%d=%q\n", slot, nic.natnet)
		case "nat":
			fmt.Fprintf(&b, "natnet%d=\"nat\"\n", slot)
			for i, rule := range nic.forwards {
				fmt.Fprintf(&b, "Forwarding(%d)=%q\n", i, rule)
			}
		}
	}
	return b.String(), "", 0
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (f *FakeVBox) createVM(args []string) (string, string, int) {
	flags := flagValues(args)
	name := flags["--name"]
	if name == "" {
		return "", "VBoxManage: error: Parameter --name is required\n", 1
	}
	if _, exists := f.vms[name]; exists {
		return "", fmt.Sprintf("VBoxManage: error: Machine settings file '%s.vbox' already exists\n", name), 1
	}
	osType := flags["--ostype"]
	if osType == "" {
		osType = "Other"
	}
	v := f.addVM(name, "poweroff", osType)
	return fmt.Sprintf("Virtual machine '%s' is created and registered.\nUUID: %s\n", name, v.UUID), "", 0
}

func mutable(state string) bool {
	return state == "poweroff" || state == "aborted"
}

func (f *FakeVBox) modifyVM(name string, args []string) (string, string, int) {
	v, ok := f.vms[name]
	if !ok {
		return notRegistered(name)
	}
	if !mutable(v.State) {
		return notMutable(v.State)
	}
	for i := 0; i+1 < len(args); i += 2 {
		flag, value := strings.TrimPrefix(args[i], "--"), args[i+1]
		switch {
		case flag == "memory":
			v.Memory, _ = strconv.Atoi(value)
		case flag == "cpus":
			v.CPUs, _ = strconv.Atoi(value)
		case strings.HasPrefix(flag, "natpf"):
			slot, _ := strconv.Atoi(strings.TrimPrefix(flag, "natpf"))
			if value == "delete" && i+2 < len(args) {
				if out, errOut, code := f.deleteForward(v, slot, args[i+2]); code != 0 {
					return out, errOut, code
				}
				i++
				continue
			}
			if out, errOut, code := f.addForward(v, slot, value); code != 0 {
				return out, errOut, code
			}
		default:
			if out, errOut, code := f.modifyNIC(v, flag, value); code != 0 {
				return out, errOut, code
			}
		}
	}
	return "", "", 0
}

func (f *FakeVBox) modifyNIC(v *FakeVM, flag, value string) (string, string, int) {
	prefixes := []string{"nic", "macaddress", "cableconnected", "bridgeadapter", "hostonlyadapter", "intnet", "nat-network"}
	for _, p := range prefixes {
		if !strings.HasPrefix(flag, p) {
			continue
		}
		slot, err := strconv.Atoi(strings.TrimPrefix(flag, p))
		if err != nil || slot < 1 || slot > 8 {
			continue
		}
		nic, ok := v.nics[slot]
		if !ok {
			nic = &fakeNIC{mode: "none", mac: fmt.Sprintf("080027AABB%02d", slot)}
			v.nics[slot] = nic
		}
		switch p {
		case "nic":
			if value == "none" {
				delete(v.nics, slot)
			} else {
				nic.mode = value
			}
		case "macaddress":
			nic.mac = value
		case "cableconnected":
			nic.cable = value == "on"
		case "bridgeadapter":
			nic.bridge = value
		case "hostonlyadapter":
			nic.hostonly = value
		case "intnet":
			nic.intnet = value
		case "nat-network":
			nic.natnet = value
		}
		return "", "", 0
	}
	return "", fmt.Sprintf("VBoxManage: error: Unknown option: --%s\n", flag), 1
}

func (f *FakeVBox) addForward(v *FakeVM, slot int, rule string) (string, string, int) {
	nic, ok := v.nics[slot]
	if !ok || nic.mode != "nat" {
		return "", fmt.Sprintf("VBoxManage: error: Network adapter %d is not attached to NAT\n", slot), 1
	}
	name := strings.SplitN(rule, ",", 2)[0]
	for _, existing := range nic.forwards {
		if strings.SplitN(existing, ",", 2)[0] == name {
			return "", fmt.Sprintf("VBoxManage: error: A NAT rule of this name already exists: %s\n", name), 1
		}
	}
	nic.forwards = append(nic.forwards, rule)
	return "", "", 0
}

func (f *FakeVBox) deleteForward(v *FakeVM, slot int, name string) (string, string, int) {
	nic, ok := v.nics[slot]
	if ok {
		for i, existing := range nic.forwards {
			if strings.SplitN(existing, ",", 2)[0] == name {
				nic.forwards = append(nic.forwards[:i], nic.forwards[i+1:]...)
				return "", "", 0
			}
		}
	}
	return "", fmt.Sprintf("VBoxManage: error: A NAT rule for this name does not exist: %s\n", name), 1
}

func (f *FakeVBox) startVM(name string) (string, string, int) {
	v, ok := f.vms[name]
	if !ok {
		return notRegistered(name)
	}
	switch v.State {
	case "poweroff", "saved", "aborted":
		v.State = "running"
		return fmt.Sprintf("Waiting for VM %q to power on...\nVM %q has been successfully started.\n", name, name), "", 0
	default:
		return locked(name)
	}
}

func (f *FakeVBox) controlVM(name string, args []string) (string, string, int) {
	v, ok := f.vms[name]
	if !ok {
		return notRegistered(name)
	}
	if len(args) == 0 {
		return "", "VBoxManage: error: Not enough parameters\n", 1
	}
	active := v.State == "running" || v.State == "paused"
	if !active {
		return notRunning(name)
	}
	switch action := args[0]; {
	case action == "poweroff":
		v.State = "poweroff"
	case action == "acpipowerbutton":
		if f.GracefulStopCompletes {
			v.State = "poweroff"
		}
	case action == "pause":
		if v.State != "running" {
			return "", "VBoxManage: error: VM is not running\n", 1
		}
		v.State = "paused"
	case action == "resume":
		if v.State != "paused" {
			return "", "VBoxManage: error: VM is not paused\n", 1
		}
		v.State = "running"
	case action == "reset":
		if v.State != "running" {
			return "", "VBoxManage: error: VM is not running\n", 1
		}
	case action == "savestate":
		v.State = "saved"
	case strings.HasPrefix(action, "natpf"):
		slot, _ := strconv.Atoi(strings.TrimPrefix(action, "natpf"))
		if len(args) >= 3 && args[1] == "delete" {
			return f.deleteForward(v, slot, args[2])
		}
		if len(args) < 2 {
			return "", "VBoxManage: error: Not enough parameters\n", 1
		}
		return f.addForward(v, slot, args[1])
	default:
		return "", fmt.Sprintf("VBoxManage: error: Invalid parameter '%s'\n", action), 1
	}
	return "", "", 0
}

func (f *FakeVBox) unregisterVM(name string) (string, string, int) {
	v, ok := f.vms[name]
	if !ok {
		return notRegistered(name)
	}
	if !mutable(v.State) && v.State != "saved" {
		return locked(name)
	}
	delete(f.vms, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return "", "", 0
}

func (f *FakeVBox) cloneVM(source string, args []string) (string, string, int) {
	src, ok := f.vms[source]
	if !ok {
		return notRegistered(source)
	}
	flags := flagValues(args)
	name := flags["--name"]
	if _, exists := f.vms[name]; exists {
		return "", fmt.Sprintf("VBoxManage: error: Machine settings file '%s.vbox' already exists\n", name), 1
	}
	if snap := flags["--snapshot"]; snap != "" && findSnapshot(src.root, snap) == nil {
		return "", fmt.Sprintf("VBoxManage: error: Could not find a snapshot named '%s'\n", snap), 1
	}
	clone := f.addVM(name, "poweroff", src.OSType)
	clone.Memory = src.Memory
	clone.CPUs = src.CPUs
	return fmt.Sprintf("Machine has been successfully cloned as %q\n", name), "", 0
}

func findSnapshot(s *fakeSnapshot, ref string) *fakeSnapshot {
	if s == nil {
		return nil
	}
	if s.uuid == ref || s.name == ref {
		return s
	}
	for _, c := range s.children {
		if found := findSnapshot(c, ref); found != nil {
			return found
		}
	}
	return nil
}

func (f *FakeVBox) snapshot(name string, args []string) (string, string, int) {
	v, ok := f.vms[name]
	if !ok {
		return notRegistered(name)
	}
	if len(args) == 0 {
		return "", "VBoxManage: error: Not enough parameters\n", 1
	}
	switch args[0] {
	case "take":
		flags := flagValues(args[2:])
		s := &fakeSnapshot{
			name:        args[1],
			uuid:        f.newUUID(),
			description: flags["--description"],
			online:      v.State == "running" || v.State == "paused",
		}
		switch {
		case v.root == nil:
			v.root = s
		case v.current == nil:
			s.parent = v.root
			v.root.children = append(v.root.children, s)
		default:
			s.parent = v.current
			v.current.children = append(v.current.children, s)
		}
		v.current = s
		return fmt.Sprintf("0%%...10%%...100%%\nSnapshot taken. UUID: %s\n", s.uuid), "", 0

	case "restore":
		s := findSnapshot(v.root, args[1])
		if s == nil {
			return "", fmt.Sprintf("VBoxManage: error: Could not find a snapshot named '%s'\n", args[1]), 1
		}
		if v.State == "running" || v.State == "paused" {
			return locked(name)
		}
		v.current = s
		if s.online {
			v.State = "saved"
		} else {
			v.State = "poweroff"
		}
		return fmt.Sprintf("Restoring snapshot '%s' (%s)\n0%%...100%%\n", s.name, s.uuid), "", 0

	case "delete":
		s := findSnapshot(v.root, args[1])
		if s == nil {
			return "", fmt.Sprintf("VBoxManage: error: Could not find a snapshot named '%s'\n", args[1]), 1
		}
		return f.deleteSnapshot(v, s)

	case "list":
		if v.root == nil {
			return "This machine does not have any snapshots\n", "", 1
		}
		var b strings.Builder
		var walk func(s *fakeSnapshot, path string)
		walk = func(s *fakeSnapshot, path string) {
			fmt.Fprintf(&b, "SnapshotName%s=%q\n", path, s.name)
			fmt.Fprintf(&b, "SnapshotUUID%s=%q\n", path, s.uuid)
			if s.description != "" {
				fmt.Fprintf(&b, "SnapshotDescription%s=%q\n", path, s.description)
			}
			for i, c := range s.children {
				walk(c, fmt.Sprintf("%s-%d", path, i+1))
			}
		}
		walk(v.root, "")
		if v.current != nil {
			fmt.Fprintf(&b, "CurrentSnapshotName=%q\n", v.current.name)
			fmt.Fprintf(&b, "CurrentSnapshotUUID=%q\n", v.current.uuid)
			fmt.Fprintf(&b, "CurrentSnapshotNode=\"SnapshotName\"\n")
		}
		return b.String(), "", 0
	}
	return "", fmt.Sprintf("VBoxManage: error: Invalid parameter '%s'\n", args[0]), 1
}

func (f *FakeVBox) deleteSnapshot(v *FakeVM, s *fakeSnapshot) (string, string, int) {
	if s.parent == nil && len(s.children) > 1 {
		return "", fmt.Sprintf("VBoxManage: error: Snapshot '%s' has more than one child snapshot\n", s.name), 1
	}
	parent := s.parent
	for _, c := range s.children {
		c.parent = parent
	}
	if parent == nil {
		if len(s.children) == 1 {
			v.root = s.children[0]
		} else {
			v.root = nil
		}
	} else {
		var kept []*fakeSnapshot
		for _, c := range parent.children {
			if c == s {
				kept = append(kept, s.children...)
				continue
			}
			kept = append(kept, c)
		}
		parent.children = kept
	}
	if v.current == s {
		v.current = parent
		if parent == nil {
			v.current = v.root
		}
	}
	return "0%...100%\n", "", 0
}

func (f *FakeVBox) storageCtl(name string, args []string) (string, string, int) {
	v, ok := f.vms[name]
	if !ok {
		return notRegistered(name)
	}
	if !mutable(v.State) {
		return notMutable(v.State)
	}
	flags := flagValues(args)
	ctrl := flags["--name"]
	if _, remove := flags["--remove"]; remove {
		for i, c := range v.controllers {
			if c.name == ctrl {
				v.controllers = append(v.controllers[:i], v.controllers[i+1:]...)
				return "", "", 0
			}
		}
		return "", fmt.Sprintf("VBoxManage: error: Could not find a storage controller named '%s'\n", ctrl), 1
	}
	for _, c := range v.controllers {
		if c.name == ctrl {
			return "", fmt.Sprintf("VBoxManage: error: Storage controller named '%s' already exists\n", ctrl), 1
		}
	}
	chipset := flags["--controller"]
	if chipset == "" {
		chipset = defaultChipset(flags["--add"])
	}
	ports, _ := strconv.Atoi(flags["--portcount"])
	if ports == 0 {
		ports = 2
	}
	v.controllers = append(v.controllers, &fakeController{
		name:        ctrl,
		chipset:     chipset,
		portCount:   ports,
		attachments: make(map[string]string),
	})
	return "", "", 0
}

func defaultChipset(bus string) string {
	switch bus {
	case "sata":
		return "IntelAhci"
	case "ide":
		return "PIIX4"
	case "scsi":
		return "LsiLogic"
	case "sas":
		return "LsiLogicSas"
	case "floppy":
		return "I82078"
	case "usb":
		return "USB"
	case "pcie":
		return "NVMe"
	case "virtio":
		return "VirtioSCSI"
	default:
		return bus
	}
}

func (f *FakeVBox) storageAttach(name string, args []string) (string, string, int) {
	v, ok := f.vms[name]
	if !ok {
		return notRegistered(name)
	}
	if !mutable(v.State) {
		return notMutable(v.State)
	}
	flags := flagValues(args)
	for _, c := range v.controllers {
		if c.name == flags["--storagectl"] {
			c.attachments[flags["--port"]+"-"+flags["--device"]] = flags["--medium"]
			return "", "", 0
		}
	}
	return "", fmt.Sprintf("VBoxManage: error: Could not find a controller named '%s'\n", flags["--storagectl"]), 1
}

func (f *FakeVBox) createMedium(args []string) (string, string, int) {
	flags := flagValues(args)
	path := flags["--filename"]
	for _, existing := range f.media {
		if existing == path {
			return "", fmt.Sprintf("VBoxManage: error: Failed to create medium: '%s' already exists\n", path), 1
		}
	}
	f.media = append(f.media, path)
	return fmt.Sprintf("0%%...100%%\nMedium created. UUID: %s\n", f.newUUID()), "", 0
}
