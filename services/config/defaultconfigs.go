package config

import "sync"

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Boards register their typed configs at start-up.
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: config key -> payload, published on config/<key>
// -----------------------------------------------------------------------------

var (
	embeddedMu      sync.Mutex
	embeddedConfigs = map[string]map[string]any{}
)

// Register makes cfg the embedded config for device, replacing any earlier one.
func Register(device string, cfg map[string]any) {
	embeddedMu.Lock()
	defer embeddedMu.Unlock()
	embeddedConfigs[device] = cfg
}
