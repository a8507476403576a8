package core

import (
	"context"

	"signpost-go/errcode"
	"signpost-go/types"
)

// ---- Capability & device model ----

// CapAddr is the public address of one capability: hal/cap/<domain>/<kind>/<name>.
type CapAddr struct {
	Domain string
	Kind   types.Kind
	Name   string
}

type CapabilitySpec struct {
	Domain string // empty: inferred from Kind
	Kind   types.Kind
	Name   string // empty: device ID
	Info   types.Info
}

// EnqueueResult is what a device returns from Control. OK with a nil Value is
// acknowledged with types.OKReply; a non-nil Value is wrapped in types.ValueReply.
type EnqueueResult struct {
	OK    bool
	Error errcode.Code
	Value any
}

// Device is a HAL-managed driver. Control must not block on hardware: long
// operations are issued and their outcome is reported later through the
// EventEmitter in Resources.
type Device interface {
	ID() string
	Capabilities() []CapabilitySpec
	Init(ctx context.Context) error
	Control(addr CapAddr, verb string, payload any) (EnqueueResult, error)
	Close() error // release claimed resources
}

// BuilderInput is handed to a Builder for one configured device.
type BuilderInput struct {
	ID, Type string
	Params   any
	Res      Resources
}

type Builder interface {
	Build(ctx context.Context, in BuilderInput) (Device, error)
}
