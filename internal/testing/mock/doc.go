// Package mock provides an in-memory VBoxManage for tests.
//
// FakeVBox implements executor.Runner. It parses the VBoxManage verbs the
// hypervisor backend emits, keeps VMs, snapshots, NICs and storage in
// memory, and prints machine-readable output in the same format as the real
// binary, so everything above the runner runs unmodified:
//
//	fake := mock.NewFakeVBox()
//	fake.AddVM("web", "running")
//	backend := hypervisor.NewVirtualBox("VBoxManage", "", fake)
//
// Faults, delays and blocking can be injected per verb with FailNext,
// SetDelay and Block, and every received command is recorded for
// assertions via Calls and CallCount.
package mock
