package orchestrator

import (
	"context"

	"virtmcp/internal/parser"
	"virtmcp/internal/scheduler"
)

// hostKey is the scheduler key for queries about the installation rather
// than one VM.
const hostKey = "host"

// HostReport combines the host queries returned by the host info action.
type HostReport struct {
	Backend string          `json:"backend"`
	Version string          `json:"version"`
	Host    parser.HostInfo `json:"host"`
}

// HostInfo reports the hypervisor version and host resources.
func (o *Orchestrator) HostInfo(ctx context.Context) (HostReport, error) {
	if o.host == nil {
		return HostReport{}, o.unsupported("host info")
	}
	report := HostReport{Backend: o.backend.Name()}
	err := o.sched.Run(ctx, o.key(hostKey), "host_info", scheduler.IntentRead, func(ctx context.Context) error {
		v, err, _ := o.reads.Do("host/version", func() (interface{}, error) {
			return o.host.Version(ctx)
		})
		if err != nil {
			return err
		}
		report.Version = v.(string)

		h, err, _ := o.reads.Do("host/info", func() (interface{}, error) {
			return o.host.HostInfo(ctx)
		})
		if err != nil {
			return err
		}
		report.Host = h.(parser.HostInfo)
		return nil
	})
	return report, err
}

// Version returns the hypervisor's version string.
func (o *Orchestrator) Version(ctx context.Context) (string, error) {
	if o.host == nil {
		return "", o.unsupported("version")
	}
	var version string
	err := o.sched.Run(ctx, o.key(hostKey), "version", scheduler.IntentRead, func(ctx context.Context) error {
		var err error
		version, err = o.host.Version(ctx)
		return err
	})
	return version, err
}

// OSTypes lists the guest OS types the hypervisor knows.
func (o *Orchestrator) OSTypes(ctx context.Context) ([]parser.OSType, error) {
	if o.host == nil {
		return nil, o.unsupported("os type list")
	}
	var types []parser.OSType
	err := o.sched.Run(ctx, o.key(hostKey), "ostypes", scheduler.IntentRead, func(ctx context.Context) error {
		var err error
		types, err = o.host.OSTypes(ctx)
		return err
	})
	return types, err
}
