package types

type StorageInfo struct {
	Flash     string `json:"flash"`
	StartPage int    `json:"start_page"`
	Length    uint32 `json:"length"`
}

type StorageSize struct {
	Bytes uint32 `json:"bytes"`
}

// StorageDone is emitted on event/read_done and event/write_done.
type StorageDone struct {
	Offset uint32 `json:"offset"`
	Length uint32 `json:"length"`
	Data   []byte `json:"data,omitempty"` // read_done only
	Error  string `json:"error,omitempty"`
}
