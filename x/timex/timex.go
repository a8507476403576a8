package timex

import "time"

// NowMs returns Unix milliseconds as int64. Event and status timestamps on
// the bus use this clock.
func NowMs() int64 { return time.Now().UnixMilli() }
