// Package api
// Author: momentics
//
// Live debug support: queue and filter state snapshots for diagnostics.

package api

// Debug exposes runtime introspection.
type Debug interface {
	// DumpState emits a snapshot of all registered probes.
	DumpState() map[string]any

	// RegisterProbe dynamically registers a named probe.
	RegisterProbe(name string, fn func() any)

	// UnregisterProbe drops a probe, e.g. when its queue closes.
	UnregisterProbe(name string)
}
