// Package config provides configuration management for virtmcp.
//
// Configuration is read from config.yaml inside a configuration directory.
// The default directory is ~/.config/virtmcp; commands accept --config-path to
// point elsewhere. A missing file is not an error: the defaults returned by
// GetDefaultConfig apply.
//
// # Configuration File
//
//	virtualbox:
//	  path: VBoxManage
//	  baseFolder: /srv/vms
//	hyperv:
//	  enabled: false
//	  path: powershell.exe
//	concurrency: 8
//	timeouts:
//	  default: 2m
//	  reconcile: 30s
//	  tools:
//	    snapshot_management: 10m
//	  actions:
//	    vm_management.clone: 30m
//	retry:
//	  maxAttempts: 3
//	  initialInterval: 500ms
//	  maxInterval: 5s
//	rateLimit:
//	  perSecond: 20
//	  burst: 40
//	server:
//	  transport: stdio
//	  host: localhost
//	  port: 8090
//	metrics:
//	  address: ""
//
// # Hot Reload
//
// Watcher observes the configuration directory with fsnotify. When
// config.yaml changes it is re-read and validated; a valid result is handed
// to the callback. Only timeouts and the retry policy are applied to a
// running server, every other value needs a restart.
package config
