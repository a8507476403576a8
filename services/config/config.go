package config

import (
	"context"
	"errors"
	"sort"

	"signpost-go/bus"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// EmbeddedConfigLookup allows overriding how configs are resolved. A device
// config maps a key to the typed payload published on config/<key>.
var EmbeddedConfigLookup = func(device string) (map[string]any, bool) {
	embeddedMu.Lock()
	defer embeddedMu.Unlock()
	m, ok := embeddedConfigs[device]
	return m, ok
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig publishes every key of the device config as a retained message.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	m, ok := EmbeddedConfigLookup(device)
	if !ok || len(m) == 0 {
		return errors.New("no embedded config for device: " + device)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		conn.Publish(&bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  m[k],
			Retained: true,
		})
	}
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[config]", err.Error())
		}
	}()
}
