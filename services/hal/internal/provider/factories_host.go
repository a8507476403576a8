//go:build !(rp2040 || rp2350)

package provider

import (
	"signpost-go/services/hal/flash"
	"signpost-go/services/hal/internal/provider/setups"
)

// Off-target every flash is emulated in RAM with the planned geometry.
func openFlash(p setups.FlashPlan) (flash.PageDevice, error) {
	return flash.NewMemDevice(p.Pages), nil
}
