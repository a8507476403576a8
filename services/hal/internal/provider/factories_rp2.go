//go:build rp2040 || rp2350

package provider

import (
	"machine"

	"signpost-go/drivers/fm25cl"
	"signpost-go/errcode"
	"signpost-go/services/hal/flash"
	"signpost-go/services/hal/internal/provider/setups"
)

func openFlash(p setups.FlashPlan) (flash.PageDevice, error) {
	switch p.Kind {
	case setups.FlashFM25CL:
		return openFM25CL(p)
	case setups.FlashInternal:
		return flash.NewBlockPages(machine.Flash, p.Offset, p.Pages)
	default:
		return nil, errcode.Unsupported
	}
}

func openFM25CL(p setups.FlashPlan) (flash.PageDevice, error) {
	var hw *machine.SPI
	switch p.SPI {
	case 0:
		hw = machine.SPI0
	case 1:
		hw = machine.SPI1
	default:
		return nil, errcode.InvalidParams
	}
	if err := hw.Configure(machine.SPIConfig{
		Frequency: p.Hz,
		SCK:       machine.Pin(p.SCK),
		SDO:       machine.Pin(p.SDO),
		SDI:       machine.Pin(p.SDI),
		Mode:      0,
	}); err != nil {
		return nil, err
	}
	cs := machine.Pin(p.CS)
	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})

	d := fm25cl.New(hw, cs.Set)
	if err := d.Configure(fm25cl.Config{Capacity: p.Pages * fm25cl.PageSize, VerifyWEL: true}); err != nil {
		return nil, err
	}
	if err := d.ClearProtection(); err != nil {
		return nil, err
	}
	return d, nil
}
