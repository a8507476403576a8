package types

// Allow shares a buffer with a driver. Num selects which buffer slot the
// driver should use; drivers with a single slot ignore it.
type Allow struct {
	Num int    `json:"num"`
	Buf []byte `json:"buf"`
}

// Command invokes a numbered driver operation.
type Command struct {
	Num  uint32 `json:"num"`
	Arg1 uint32 `json:"arg1,omitempty"`
	Arg2 uint32 `json:"arg2,omitempty"`
}

// DriverBinding maps a platform driver number onto a HAL capability.
type DriverBinding struct {
	Num    uint32 `json:"num"`
	Domain string `json:"domain"`
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
}

// DispatchConfig is published on "config/dispatch".
type DispatchConfig struct {
	Drivers []DriverBinding `json:"drivers"`
}
