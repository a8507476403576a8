package setups

import (
	"signpost-go/services/hal/devices/nvstore"
	"signpost-go/services/hal/devices/stfu"
	"signpost-go/types"
)

// Holding area for staged images in internal flash.
const (
	holdingStart  = 0x60000
	holdingLength = 0x20000
)

// Controller is the signpost controller: boot flags and the image holding
// area in internal flash, application storage on an FM25CL64.
var Controller = Setup{
	Name: "controller",
	Plan: ResourcePlan{
		Flash: []FlashPlan{
			{ID: "internal", Kind: FlashInternal, Pages: (holdingStart + holdingLength) / 512},
			{ID: "fram0", Kind: FlashFM25CL, Pages: 16,
				SPI: 0, SCK: 18, SDO: 19, SDI: 16, CS: 17, Hz: 4_000_000},
		},
	},
	HAL: types.HALConfig{
		Devices: []types.HALDevice{
			{ID: "stfu", Type: "stfu", Params: stfu.Params{Flash: "internal", Domain: "system", Name: "stfu"}},

			{ID: "holding", Type: "nonvolatile_storage", Params: nvstore.Params{
				Flash: "internal", StartPage: holdingStart / 512, Length: holdingLength,
				Domain: "storage", Name: "holding",
			}},

			{ID: "app_storage", Type: "nonvolatile_storage", Params: nvstore.Params{
				Flash: "fram0", StartPage: 0, Length: 16 * 512,
				Domain: "storage", Name: "app",
			}},
		},
	},
	Drivers: []types.DriverBinding{
		{Num: 0x11002, Domain: "system", Kind: types.KindFirmwareUpdate, Name: "stfu"},
		{Num: 0x51000, Domain: "storage", Kind: types.KindNonvolatile, Name: "holding"},
		{Num: 0x50001, Domain: "storage", Kind: types.KindNonvolatile, Name: "app"},
	},
}
