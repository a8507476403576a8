package stfu

import (
	"context"

	"signpost-go/errcode"
	"signpost-go/services/hal/flash"
	"signpost-go/services/hal/internal/core"
	"signpost-go/types"
)

// Params defines wiring for one update trigger.
type Params struct {
	Flash  string // flash resource holding the boot flags, e.g. "internal" (required)
	Domain string // default "system"
	Name   string // default device ID
}

// Builder registration.
func init() { core.RegisterBuilder("stfu", builder{}) }

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, ok := in.Params.(Params)
	if !ok {
		if pp, ok2 := in.Params.(*Params); ok2 && pp != nil {
			p = *pp
		} else {
			return nil, errcode.InvalidParams
		}
	}
	if p.Flash == "" {
		return nil, errcode.InvalidParams
	}
	if p.Domain == "" {
		p.Domain = "system"
	}
	if p.Name == "" {
		p.Name = in.ID
	}

	f, err := in.Res.Reg.ClaimFlash(in.ID, core.ResourceID(p.Flash))
	if err != nil {
		return nil, err
	}
	if f.NumPages() <= FlagsPage {
		in.Res.Reg.ReleaseFlash(in.ID, core.ResourceID(p.Flash))
		return nil, errcode.InvalidParams
	}

	d := &Device{
		id:      in.ID,
		addr:    core.CapAddr{Domain: p.Domain, Kind: types.KindFirmwareUpdate, Name: p.Name},
		res:     in.Res,
		flashID: core.ResourceID(p.Flash),
		f:       f,
	}
	d.u = NewUpdater(f, new(flash.Page), d)
	return d, nil
}
