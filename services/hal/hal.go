// Package hal runs the hardware abstraction layer for the selected board.
//
// Capabilities are addressed as hal/cap/<domain>/<kind>/<name>. Each one
// publishes retained info and status, a retained value, and non-retained
// events, and accepts request/reply controls on .../control/<verb>.
package hal

import (
	"context"

	"signpost-go/bus"
	"signpost-go/services/hal/internal/core"
	"signpost-go/services/hal/internal/provider"
	"signpost-go/types"
)

// Run starts the HAL on conn and blocks until ctx is cancelled. Devices are
// built once a types.HALConfig arrives on config/hal.
func Run(ctx context.Context, conn *bus.Connection) {
	res := provider.NewResources(ctx)
	core.NewHAL(conn, res).Run(ctx)
}

// BoardName identifies the selected board setup.
func BoardName() string { return provider.Selected.Name }

// BoardConfigs returns the selected board's typed configs keyed by config
// topic: "hal" for the device list and "dispatch" for the driver table.
func BoardConfigs() map[string]any {
	s := provider.Selected
	return map[string]any{
		"hal":      s.HAL,
		"dispatch": types.DispatchConfig{Drivers: s.Drivers},
	}
}
