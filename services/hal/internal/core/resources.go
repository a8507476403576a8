package core

import (
	"signpost-go/services/hal/flash"
)

type ResourceID string // e.g. "fram0"

// ---- Device → HAL telemetry (single shape) ----
// By default, an Event represents a "value-like" update for a capability that
// HAL should publish to .../value (retained). If IsEvent is true, HAL instead
// publishes to .../event (non-retained). Err, when non-empty, causes HAL to
// publish only .../status=degraded (retained).

type Event struct {
	Addr     CapAddr // target capability
	Payload  any     // typed value payload (e.g. types.FirmwareUpdateState)
	TSms     int64   // ms timestamp
	Err      string  // "flash_error", ...
	IsEvent  bool    // true => publish to .../event (non-retained)
	EventTag string  // optional subtopic tag for events (e.g. "staged")
}

// ---- Event emission (devices → HAL) ----

type EventEmitter interface {
	// Emit tries to enqueue an Event for HAL publication.
	// It must be non-blocking; false indicates a drop under pressure.
	Emit(ev Event) bool
}

// ---- HAL-injected resources ----

type Resources struct {
	Reg ResourceRegistry
	Pub EventEmitter // provided by HAL; devices use it to emit values/events
}

// ResourceRegistry hands out shared hardware. Every claim must be matched by
// a release from the device's Close.
type ResourceRegistry interface {
	// ClaimFlash returns a virtual flash on the named controller. Each device
	// gets its own client slot; operations from different devices are
	// serialised by the provider.
	ClaimFlash(devID string, id ResourceID) (flash.Flash, error)
	ReleaseFlash(devID string, id ResourceID)
}
