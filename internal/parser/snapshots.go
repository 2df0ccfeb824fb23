package parser

import (
	"strings"

	"virtmcp/internal/snapshot"
)

// NoSnapshotsMarker is printed (with a non-zero exit) by `snapshot list`
// when a VM has no snapshots.
const NoSnapshotsMarker = "does not have any snapshots"

// ParseSnapshotList parses `snapshot <vm> list --machinereadable`.
//
// Keys carry the tree position as a suffix: SnapshotName is the root,
// SnapshotName-1 its first child, SnapshotName-1-2 that child's second
// child. Records are returned in listing order, which is pre-order.
func ParseSnapshotList(output string) []snapshot.Record {
	if strings.Contains(output, NoSnapshotsMarker) {
		return nil
	}
	kv := ParseKeyValues(output)

	type partial struct {
		path   string
		record snapshot.Record
	}
	var order []string
	byPath := make(map[string]*partial)
	currentID := kv.String("CurrentSnapshotUUID")
	currentName := kv.String("CurrentSnapshotName")

	for _, p := range kv {
		var field, path string
		switch {
		case strings.HasPrefix(p.Key, "SnapshotName"):
			field, path = "name", strings.TrimPrefix(p.Key, "SnapshotName")
		case strings.HasPrefix(p.Key, "SnapshotUUID"):
			field, path = "uuid", strings.TrimPrefix(p.Key, "SnapshotUUID")
		case strings.HasPrefix(p.Key, "SnapshotDescription"):
			field, path = "description", strings.TrimPrefix(p.Key, "SnapshotDescription")
		default:
			continue
		}
		if path != "" && !strings.HasPrefix(path, "-") {
			continue
		}

		entry, ok := byPath[path]
		if !ok {
			entry = &partial{path: path}
			byPath[path] = entry
			order = append(order, path)
		}
		switch field {
		case "name":
			entry.record.Name = p.Value
		case "uuid":
			entry.record.ID = p.Value
		case "description":
			entry.record.Description = p.Value
		}
	}

	records := make([]snapshot.Record, 0, len(order))
	for _, path := range order {
		entry := byPath[path]
		if entry.record.ID == "" {
			// Older releases omit UUIDs; fall back to the tree path.
			entry.record.ID = "path" + path
		}
	}
	for _, path := range order {
		entry := byPath[path]
		r := entry.record
		if path != "" {
			parentPath := path[:strings.LastIndex(path, "-")]
			if parent, ok := byPath[parentPath]; ok {
				r.ParentID = parent.record.ID
			}
		}
		if currentID != "" {
			r.Current = r.ID == currentID
		} else {
			r.Current = currentName != "" && r.Name == currentName
		}
		records = append(records, r)
	}
	return records
}
