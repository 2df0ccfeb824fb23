package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtmcp/internal/vm"
)

const showVMInfoOutput = `name="web"
groups="/"
ostype="Ubuntu (64-bit)"
UUID="7b1f6c9e-2b43-4f2a-9d3e-1e2f3a4b5c6d"
CfgFile="/home/u/VirtualBox VMs/web/web.vbox"
memory=2048
cpus=2
VMState="running"
VMStateChangeTime="2024-05-01T10:00:00.000000000"
storagecontrollername0="SATA"
storagecontrollertype0="IntelAhci"
storagecontrollerinstance0="0"
storagecontrollermaxportcount0="30"
storagecontrollerportcount0="30"
storagecontrollerbootable0="on"
storagecontrollername1="IDE Controller"
storagecontrollertype1="PIIX4"
storagecontrollerportcount1="2"
"SATA-0-0"="/home/u/VirtualBox VMs/web/web.vdi"
"SATA-ImageUUID-0-0"="0a1b2c3d"
"SATA-1-0"="none"
"IDE Controller-1-0"="emptydrive"
natnet1="nat"
Forwarding(0)="ssh,tcp,,2222,,22"
Forwarding(1)="web,tcp,127.0.0.1,8080,10.0.2.15,80"
macaddress1="080027AABBCC"
cableconnected1="on"
nic1="nat"
nictype1="82540EM"
bridgeadapter2="en0: Wi-Fi"
macaddress2="080027DDEEFF"
cableconnected2="off"
nic2="bridged"
nic3="none"
nic4="none"
description="first line
second line"
SomeFutureKey="ignored"
CurrentSnapshotName="base"
`

func TestParseKeyValues(t *testing.T) {
	kv := ParseKeyValues(`name="web"
"SATA-0-0"="/path/with=equals.vdi"
memory=1024
not a pair
empty=""`)

	assert.Equal(t, "web", kv.String("name"))
	assert.Equal(t, "/path/with=equals.vdi", kv.String("SATA-0-0"))
	assert.Equal(t, 1024, kv.Int("memory"))
	assert.Equal(t, 0, kv.Int("missing"))
	v, ok := kv.Get("empty")
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.Len(t, kv.Map(), 4)
}

func TestParseVMInfo(t *testing.T) {
	d, err := ParseVMInfo(showVMInfoOutput)
	require.NoError(t, err)

	assert.Equal(t, "web", d.Name)
	assert.Equal(t, "7b1f6c9e-2b43-4f2a-9d3e-1e2f3a4b5c6d", d.ID)
	assert.Equal(t, vm.StateRunning, d.State)
	assert.Equal(t, 2048, d.MemoryMB)
	assert.Equal(t, 2, d.CPUs)
	assert.Equal(t, "Ubuntu (64-bit)", d.OSType)

	require.Len(t, d.Adapters, 4)
	nat := d.Adapters[0]
	assert.Equal(t, 1, nat.Slot)
	assert.Equal(t, vm.AttachmentNAT, nat.Mode)
	assert.True(t, nat.Enabled)
	assert.True(t, nat.CableConnected)
	assert.Equal(t, "080027AABBCC", nat.MACAddress)
	require.Len(t, nat.PortForwards, 2)
	assert.Equal(t, vm.PortForwardingRule{Name: "ssh", Protocol: "tcp", HostPort: 2222, GuestPort: 22}, nat.PortForwards[0])
	assert.Equal(t, "127.0.0.1", nat.PortForwards[1].HostIP)
	assert.Equal(t, "10.0.2.15", nat.PortForwards[1].GuestIP)

	bridged := d.Adapters[1]
	assert.Equal(t, vm.AttachmentBridged, bridged.Mode)
	assert.Equal(t, "en0: Wi-Fi", bridged.BridgeAdapter)
	assert.False(t, bridged.CableConnected)

	assert.False(t, d.Adapters[2].Enabled)
	assert.Equal(t, vm.AttachmentNone, d.Adapters[2].Mode)

	require.Len(t, d.Controllers, 2)
	sata := d.Controllers[0]
	assert.Equal(t, "SATA", sata.Name)
	assert.Equal(t, "sata", sata.Bus)
	assert.Equal(t, "IntelAhci", sata.Chipset)
	assert.Equal(t, 30, sata.PortCount)
	require.Len(t, sata.Attachments, 1)
	assert.Equal(t, vm.StorageAttachment{Port: 0, Device: 0, Medium: "/home/u/VirtualBox VMs/web/web.vdi"}, sata.Attachments[0])

	ide := d.Controllers[1]
	assert.Equal(t, "ide", ide.Bus)
	require.Len(t, ide.Attachments, 1)
	assert.Equal(t, "emptydrive", ide.Attachments[0].Medium)
}

func TestParseVMInfo_Minimal(t *testing.T) {
	d, err := ParseVMInfo(`name="bare"`)
	require.NoError(t, err)
	assert.Equal(t, vm.StateUnknown, d.State)
	assert.Empty(t, d.Adapters)
	assert.Empty(t, d.Controllers)

	_, err = ParseVMInfo(`VMState="running"`)
	assert.Error(t, err)
}

func TestVBoxState(t *testing.T) {
	tests := map[string]vm.State{
		"poweroff":         vm.StatePoweredOff,
		"running":          vm.StateRunning,
		"paused":           vm.StatePaused,
		"saved":            vm.StateSaved,
		"aborted":          vm.StateAborted,
		"gurumeditation":   vm.StateAborted,
		"stuck":            vm.StateAborted,
		"starting":         vm.StateStarting,
		"stopping":         vm.StateStopping,
		"saving":           vm.StateSaving,
		"restoring":        vm.StateRestoring,
		"livesnapshotting": vm.StateRunning,
		"RUNNING":          vm.StateRunning,
		"somethingnew":     vm.StateUnknown,
	}
	for raw, want := range tests {
		assert.Equal(t, want, VBoxState(raw), raw)
	}
}

func TestParseForwardingRule(t *testing.T) {
	_, ok := ParseForwardingRule("too,short")
	assert.False(t, ok)
	_, ok = ParseForwardingRule("r,tcp,,abc,,22")
	assert.False(t, ok)
	r, ok := ParseForwardingRule("dns,udp,,5353,,53")
	require.True(t, ok)
	assert.Equal(t, "udp", r.Protocol)
}

func TestParseVMList(t *testing.T) {
	out := `"web" {7b1f6c9e-2b43-4f2a-9d3e-1e2f3a4b5c6d}
"db "primary"" {11111111-2222-3333-4444-555555555555}
garbage line
"" {deadbeef}
`
	entries := ParseVMList(out)
	require.Len(t, entries, 2)
	assert.Equal(t, VMListEntry{Name: "web", ID: "7b1f6c9e-2b43-4f2a-9d3e-1e2f3a4b5c6d"}, entries[0])
	assert.Equal(t, `db "primary"`, entries[1].Name)

	details := ListedDetails(entries)
	assert.Equal(t, vm.StateUnknown, details[0].State)
}

func TestParseSnapshotList(t *testing.T) {
	out := `SnapshotName="base"
SnapshotUUID="u-base"
SnapshotDescription="clean install"
SnapshotName-1="updates"
SnapshotUUID-1="u-updates"
SnapshotName-1-1="app"
SnapshotUUID-1-1="u-app"
SnapshotName-2="experiment"
SnapshotUUID-2="u-exp"
CurrentSnapshotName="app"
CurrentSnapshotUUID="u-app"
CurrentSnapshotNode="SnapshotName-1-1"
`
	records := ParseSnapshotList(out)
	require.Len(t, records, 4)

	assert.Equal(t, "base", records[0].Name)
	assert.Equal(t, "clean install", records[0].Description)
	assert.Empty(t, records[0].ParentID)
	assert.Equal(t, "u-base", records[1].ParentID)
	assert.Equal(t, "u-updates", records[2].ParentID)
	assert.True(t, records[2].Current)
	assert.Equal(t, "u-base", records[3].ParentID)
	assert.False(t, records[3].Current)

	assert.Nil(t, ParseSnapshotList("This machine does not have any snapshots"))
}

func TestParseSnapshotList_NoUUIDs(t *testing.T) {
	records := ParseSnapshotList(`SnapshotName="a"
SnapshotName-1="b"
CurrentSnapshotName="b"`)
	require.Len(t, records, 2)
	assert.Equal(t, "path", records[0].ID)
	assert.Equal(t, "path", records[1].ParentID)
	assert.True(t, records[1].Current)
}

func TestParseHostInfo(t *testing.T) {
	out := `Host Information:

Host time: 2024-05-01T10:00:00.000000000Z
Processor online count: 8
Memory size: 16384 MByte
Memory available: 8000 MByte
Operating system: Linux
Operating system version: 6.1.0
`
	info := ParseHostInfo(out)
	assert.Equal(t, 8, info.ProcessorCount)
	assert.Equal(t, 16384, info.MemoryMB)
	assert.Equal(t, 8000, info.MemoryFreeMB)
	assert.Equal(t, "Linux", info.OS)
	assert.Equal(t, "6.1.0", info.OSVersion)
	assert.Equal(t, "2024-05-01T10:00:00.000000000Z", info.Fields["Host time"])
}

func TestParseOSTypes(t *testing.T) {
	out := `ID:          Other
Description: Other/Unknown
Family ID:   Other
Family Desc: Other
64 bit:      false

ID:          Ubuntu_64
Description: Ubuntu (64-bit)
Family ID:   Linux
Family Desc: Linux
64 bit:      true
`
	types := ParseOSTypes(out)
	require.Len(t, types, 2)
	assert.Equal(t, "Ubuntu_64", types[1].ID)
	assert.True(t, types[1].Is64Bit)
	assert.Equal(t, "Linux", types[1].FamilyID)
}

func TestParseHostOnlyNetworks(t *testing.T) {
	out := `Name:            vboxnet0
GUID:            786f6276-656e-4074-8000-0a0027000000
DHCP:            Disabled
IPAddress:       192.168.56.1
NetworkMask:     255.255.255.0
Status:          Up
`
	nets := ParseHostOnlyNetworks(out)
	require.Len(t, nets, 1)
	assert.Equal(t, HostOnlyNetwork{Name: "vboxnet0", IPAddress: "192.168.56.1", NetworkMask: "255.255.255.0", Status: "Up"}, nets[0])
}

func TestParseDisks(t *testing.T) {
	out := `UUID:           0a1b2c3d
Parent UUID:    base
State:          created
Type:           normal (base)
Location:       /vms/web/web.vdi
Storage format: VDI
Capacity:       20480 MBytes
Encryption:     disabled
`
	disks := ParseDisks(out)
	require.Len(t, disks, 1)
	assert.Equal(t, "", disks[0].ParentUUID)
	assert.Equal(t, 20480, disks[0].CapacityMB)
	assert.Equal(t, "/vms/web/web.vdi", disks[0].Location)
	assert.Equal(t, "VDI", disks[0].Format)
}

func TestParseVersionAndUUID(t *testing.T) {
	assert.Equal(t, "7.0.14r161095", ParseVersion("7.0.14r161095\n"))
	assert.Equal(t, "", ParseVersion(""))
	assert.Equal(t, "1d2c3b4a", ParseCreatedUUID("0%...100%\nSnapshot taken. UUID: 1d2c3b4a\n"))
	assert.Equal(t, "", ParseCreatedUUID("nothing here"))
	assert.Equal(t, "9f8e", ParseCreatedUUID("Medium created. UUID: 9f8e\n"))
}

func TestParseHyperVVMs(t *testing.T) {
	t.Run("array with numeric states", func(t *testing.T) {
		out := `[{"Name":"dc01","Id":"a1","State":2,"MemoryStartup":4294967296,"ProcessorCount":4,"Extra":{"nested":true}},
{"Name":"build","Id":"b2","State":3,"MemoryStartup":2147483648,"ProcessorCount":2}]`
		vms, err := ParseHyperVVMs(out)
		require.NoError(t, err)
		require.Len(t, vms, 2)
		assert.Equal(t, vm.StateRunning, vms[0].State)
		assert.Equal(t, 4096, vms[0].MemoryMB)
		assert.Equal(t, 4, vms[0].CPUs)
		assert.Equal(t, vm.StatePoweredOff, vms[1].State)
	})

	t.Run("single object with string state", func(t *testing.T) {
		vms, err := ParseHyperVVMs(`{"Name":"dc01","VMId":"a1","State":"Saved"}`)
		require.NoError(t, err)
		require.Len(t, vms, 1)
		assert.Equal(t, "a1", vms[0].ID)
		assert.Equal(t, vm.StateSaved, vms[0].State)
	})

	t.Run("empty output", func(t *testing.T) {
		vms, err := ParseHyperVVMs("  \n")
		require.NoError(t, err)
		assert.Empty(t, vms)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseHyperVVMs(`{"Name":`)
		assert.Error(t, err)
		_, err = ParseHyperVVMs(`{"Name":"x","State":true}`)
		assert.Error(t, err)
	})
}

func TestHyperVState(t *testing.T) {
	tests := []struct {
		raw  string
		want vm.State
	}{
		{"Running", vm.StateRunning},
		{"RunningCritical", vm.StateRunning},
		{"2", vm.StateRunning},
		{"32785", vm.StateRunning},
		{"Off", vm.StatePoweredOff},
		{"3", vm.StatePoweredOff},
		{"9", vm.StatePaused},
		{"Resuming", vm.StateStarting},
		{"32777", vm.StateStarting},
		{"FastSaved", vm.StateSaved},
		{"32779", vm.StateSaved},
		{"32780", vm.StateSaving},
		{"FastSavingCritical", vm.StateSaving},
		{"32776", vm.StatePausing},
		{"ComponentServicing", vm.StateUnknown},
		{"32769", vm.StateUnknown},
		{"", vm.StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, HyperVState(tt.raw))
		})
	}
}
