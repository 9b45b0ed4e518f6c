// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, metrics and debug introspection for the event registry.
//
// Provides:
//   - Typed configuration loaded through viper with KQ_ environment overrides
//   - A key/value store whose listeners apply run-time changes
//   - Prometheus collectors for watches, activations and scans
//   - Named debug probes that dump queue and filter state
package control
