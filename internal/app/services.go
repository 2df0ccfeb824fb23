package app

import (
	"virtmcp/internal/config"
	"virtmcp/internal/dispatcher"
	"virtmcp/internal/executor"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/mcpserver"
	"virtmcp/internal/metrics"
	"virtmcp/internal/orchestrator"
	"virtmcp/internal/scheduler"
	"virtmcp/pkg/logging"
)

// Services holds the wired components of a running server.
type Services struct {
	Metrics    *metrics.Metrics
	Scheduler  *scheduler.Scheduler
	VirtualBox *orchestrator.Orchestrator
	// HyperV is nil unless enabled in the configuration.
	HyperV     *orchestrator.Orchestrator
	Dispatcher *dispatcher.Dispatcher
	Server     *mcpserver.Server

	retrying *executor.RetryingRunner
	timeouts *dispatcher.Timeouts
}

// InitializeServices wires executor, scheduler, orchestrators, dispatcher and
// MCP server from the loaded configuration.
func InitializeServices(cfg *Config) *Services {
	settings := cfg.Settings
	m := metrics.New()

	vboxRunner := cfg.VirtualBoxRunner
	if vboxRunner == nil {
		vboxRunner = executor.New(settings.Timeouts.Default, m)
	}
	retrying := executor.NewRetryingRunner(vboxRunner, retryPolicy(settings.Retry), m)

	sched := scheduler.New(settings.Concurrency, m)
	vbox := orchestrator.New(orchestrator.Config{
		Backend:          hypervisor.NewVirtualBox(settings.VirtualBox.Path, settings.VirtualBox.BaseFolder, retrying),
		Scheduler:        sched,
		Drift:            m,
		ReconcileTimeout: settings.Timeouts.Reconcile,
	})
	m.WatchRegistry(vbox.Registry())

	var hyperv *orchestrator.Orchestrator
	if settings.HyperV.Enabled {
		hvRunner := cfg.HyperVRunner
		if hvRunner == nil {
			hvRunner = executor.New(settings.Timeouts.Default, m)
		}
		hyperv = orchestrator.New(orchestrator.Config{
			Backend:          hypervisor.NewHyperV(settings.HyperV.Path, hvRunner),
			Scheduler:        sched,
			Drift:            m,
			KeyPrefix:        "hyperv/",
			ReconcileTimeout: settings.Timeouts.Reconcile,
		})
		logging.Info("Services", "Hyper-V backend enabled (%s)", settings.HyperV.Path)
	}

	timeouts := dispatcher.NewTimeouts(timeoutTable(settings.Timeouts))
	d := dispatcher.New(dispatcher.Config{
		VirtualBox: vbox,
		HyperV:     hyperv,
		Timeouts:   timeouts,
		Limiter:    limiter(settings.RateLimit),
		Observer:   m,
	})

	srv := mcpserver.New(mcpserver.Config{
		Name:      "virtmcp",
		Version:   cfg.Version,
		Transport: settings.Server.Transport,
		Host:      settings.Server.Host,
		Port:      settings.Server.Port,
		Metrics:   m.Handler(),
		Stdin:     cfg.Stdin,
		Stdout:    cfg.Stdout,
	}, d)

	return &Services{
		Metrics:    m,
		Scheduler:  sched,
		VirtualBox: vbox,
		HyperV:     hyperv,
		Dispatcher: d,
		Server:     srv,
		retrying:   retrying,
		timeouts:   timeouts,
	}
}

// ApplyConfig hot-applies the parts of a reloaded configuration that can
// change while serving: timeouts and the retry policy.
func (s *Services) ApplyConfig(settings config.Config) {
	s.timeouts.Set(timeoutTable(settings.Timeouts))
	s.retrying.SetPolicy(retryPolicy(settings.Retry))
	logging.Info("Services", "Applied reloaded timeouts and retry policy")
}

// Close releases the orchestrators' registries.
func (s *Services) Close() {
	s.VirtualBox.Close()
	if s.HyperV != nil {
		s.HyperV.Close()
	}
}
