package types

type FirmwareUpdateInfo struct {
	Flash     string `json:"flash"`
	FlagsPage int    `json:"flags_page"`
	PageSize  int    `json:"page_size"`
}

// FirmwareUpdateState is the retained value of a firmware_update capability.
type FirmwareUpdateState struct {
	State       string `json:"state"` // "idle","awaiting_read","awaiting_write","staged"
	Source      uint32 `json:"source"`
	Destination uint32 `json:"destination"`
	Length      uint32 `json:"length"`
	CRC         uint32 `json:"crc"`
}

// FirmwareStaged is emitted once the boot flags page has been written.
// A reset is expected to follow; it is not issued by the driver.
type FirmwareStaged struct {
	Source      uint32 `json:"source"`
	Destination uint32 `json:"destination"`
	Length      uint32 `json:"length"`
	CRC         uint32 `json:"crc"`
}
