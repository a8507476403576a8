package setups

import "signpost-go/types"

// ResourcePlan specifies wiring and operating parameters chosen by a setup.
// Providers consume this plan to instantiate resource owners.
type ResourcePlan struct {
	Flash []FlashPlan
}

type FlashKind string

const (
	FlashFM25CL   FlashKind = "fm25cl"   // SPI FRAM
	FlashInternal FlashKind = "internal" // MCU flash data area
)

type FlashPlan struct {
	ID    string // e.g. "fram0"
	Kind  FlashKind
	Pages int // 512-byte pages exposed

	// fm25cl wiring
	SPI int    // peripheral index
	SCK int    // GPIO number
	SDO int    // GPIO number
	SDI int    // GPIO number
	CS  int    // GPIO number, driven by the provider
	Hz  uint32 // bus frequency

	// internal: byte offset of page 0 within the data area
	Offset int64
}

// Setup is everything a board contributes: resources, the initial HAL device
// list and the numeric driver table.
type Setup struct {
	Name    string
	Plan    ResourcePlan
	HAL     types.HALConfig
	Drivers []types.DriverBinding
}
