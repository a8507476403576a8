package nvstore

import (
	"context"

	"signpost-go/errcode"
	"signpost-go/services/hal/flash"
	"signpost-go/services/hal/internal/core"
	"signpost-go/types"
)

// Params defines one storage region.
type Params struct {
	Flash     string // flash resource, e.g. "internal" (required)
	StartPage int    // first page of the region
	Length    uint32 // region size in bytes (required)
	Domain    string // default "storage"
	Name      string // default device ID
}

// Builder registration.
func init() { core.RegisterBuilder("nonvolatile_storage", builder{}) }

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
	if p.Flash == "" || p.Length == 0 || p.StartPage < 0 {
		return nil, errcode.InvalidParams
	}
	if p.Domain == "" {
		p.Domain = "storage"
	}
	if p.Name == "" {
		p.Name = in.ID
	}

	f, err := in.Res.Reg.ClaimFlash(in.ID, core.ResourceID(p.Flash))
	if err != nil {
		return nil, err
	}
	pages := int((p.Length + flash.PageSize - 1) / flash.PageSize)
	if p.StartPage+pages > f.NumPages() {
		in.Res.Reg.ReleaseFlash(in.ID, core.ResourceID(p.Flash))
		return nil, errcode.InvalidParams
	}

	return &Device{
		id:     in.ID,
		addr:   core.CapAddr{Domain: p.Domain, Kind: types.KindNonvolatile, Name: p.Name},
		res:    in.Res,
		params: p,
		store:  flash.NewToPages(f, p.StartPage, pages, new(flash.Page)),
	}, nil
}
