package dispatcher

import (
	"context"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/orchestrator"
	"virtmcp/internal/snapshot"
)

var snapshotNameParam = api.ParameterMetadata{
	Name:        "snapshot_name",
	Type:        TypeString,
	Required:    true,
	Description: "Snapshot name or UUID",
}

type snapshotParams struct {
	VMName       string `json:"vm_name"`
	SnapshotName string `json:"snapshot_name"`
	Description  string `json:"description"`
}

// SnapshotList is the data of the snapshot list and delete actions.
type SnapshotList struct {
	VMName    string           `json:"vm_name"`
	Snapshots []snapshot.Entry `json:"snapshots"`
	Count     int              `json:"count"`
}

func snapshotList(vmName string, entries []snapshot.Entry) SnapshotList {
	if entries == nil {
		entries = []snapshot.Entry{}
	}
	return SnapshotList{VMName: vmName, Snapshots: entries, Count: len(entries)}
}

func snapshotTool(o *orchestrator.Orchestrator) *Tool {
	return newTool("snapshot_management",
		"Take, restore, delete and list VM snapshots.",
		&Action{
			Name:        "create",
			Description: "Take a snapshot. It becomes a child of the current snapshot and the new current one.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				{Name: "snapshot_name", Type: TypeString, Required: true, Description: "Name of the new snapshot, unique per VM"},
				{Name: "description", Type: TypeString, Description: "Free-form description"},
			},
			Handler: bind(func(ctx context.Context, p snapshotParams) (interface{}, error) {
				return o.TakeSnapshot(ctx, p.VMName, hypervisor.SnapshotSpec{Name: p.SnapshotName, Description: p.Description})
			}),
		},
		&Action{
			Name:        "restore",
			Description: "Restore a stopped VM to a snapshot. The VM is left saved or powered off, never started.",
			Params:      []api.ParameterMetadata{vmNameParam, snapshotNameParam},
			Handler: bind(func(ctx context.Context, p snapshotParams) (interface{}, error) {
				return o.RestoreSnapshot(ctx, p.VMName, p.SnapshotName)
			}),
		},
		&Action{
			Name:        "delete",
			Description: "Delete a snapshot. Its children move up to its parent.",
			Params:      []api.ParameterMetadata{vmNameParam, snapshotNameParam},
			Handler: bind(func(ctx context.Context, p snapshotParams) (interface{}, error) {
				entries, err := o.DeleteSnapshot(ctx, p.VMName, p.SnapshotName)
				if err != nil {
					return nil, err
				}
				return snapshotList(p.VMName, entries), nil
			}),
		},
		&Action{
			Name:        "list",
			Description: "List a VM's snapshot tree in pre-order.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p snapshotParams) (interface{}, error) {
				entries, err := o.ListSnapshots(ctx, p.VMName)
				if err != nil {
					return nil, err
				}
				return snapshotList(p.VMName, entries), nil
			}),
		},
	)
}
