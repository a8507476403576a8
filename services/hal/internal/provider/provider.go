package provider

import (
	"context"

	"signpost-go/services/hal/internal/core"
	"signpost-go/services/hal/internal/provider/setups"
)

// Selected is the board this image is built for.
var Selected = setups.Controller

// NewResources constructs the registry from the selected plan.
func NewResources(ctx context.Context) core.Resources {
	return core.Resources{Reg: NewRegistry(ctx, Selected.Plan, openFlash)}
}
