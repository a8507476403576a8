package provider

import (
	"context"
	"sync"

	"signpost-go/errcode"
	"signpost-go/services/hal/flash"
	"signpost-go/services/hal/internal/core"
	"signpost-go/services/hal/internal/provider/setups"
)

// Ensure the provider satisfies the contracts at compile time.
var _ core.ResourceRegistry = (*Registry)(nil)

// Opener builds the page backend for one planned flash.
type Opener func(p setups.FlashPlan) (flash.PageDevice, error)

// flashOwner hosts one controller worker and shares it through a mux.
type flashOwner struct {
	ctrl  *flash.Controller
	mux   *flash.Mux
	users map[string]*flash.User // devID -> virtual flash
}

type Registry struct {
	mu      sync.Mutex
	flashes map[core.ResourceID]*flashOwner
}

// NewRegistry opens every planned flash and starts its controller. A flash
// that fails to open is logged and left out; claims on it fail.
func NewRegistry(ctx context.Context, plan setups.ResourcePlan, open Opener) *Registry {
	r := &Registry{flashes: make(map[core.ResourceID]*flashOwner)}
	for _, p := range plan.Flash {
		dev, err := open(p)
		if err != nil {
			println("[provider] flash", p.ID, "unavailable:", err.Error())
			continue
		}
		ctrl := flash.NewController(dev)
		ctrl.Start(ctx)
		r.flashes[core.ResourceID(p.ID)] = &flashOwner{
			ctrl:  ctrl,
			mux:   flash.NewMux(ctrl),
			users: make(map[string]*flash.User),
		}
	}
	return r
}

func (r *Registry) ClaimFlash(devID string, id core.ResourceID) (flash.Flash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.flashes[id]
	if o == nil {
		return nil, errcode.UnknownFlash
	}
	if _, taken := o.users[devID]; taken {
		return nil, errcode.FlashInUse
	}
	u := o.mux.NewUser()
	o.users[devID] = u
	return u, nil
}

func (r *Registry) ReleaseFlash(devID string, id core.ResourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.flashes[id]
	if o == nil {
		return
	}
	if u := o.users[devID]; u != nil {
		u.SetClient(nil)
		delete(o.users, devID)
	}
}
