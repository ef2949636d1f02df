package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderConfig selects a validator implementation and carries its raw,
// provider-specific settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory builds a Validator from provider settings.
type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]ValidatorFactory{}
)

// RegisterProvider makes a provider type available to NewValidator.
// Providers call this from init, so a blank import is enough to enable one.
func RegisterProvider(providerType string, factory ValidatorFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[providerType] = factory
}

// NewValidator builds the validator named by the config.
func NewValidator(pc ProviderConfig) (Validator, error) {
	factoriesMu.RLock()
	factory, ok := factories[pc.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auth provider %q is not registered (known: %s)",
			pc.Type, strings.Join(ListProviders(), ", "))
	}
	return factory(pc.Config)
}

// ListProviders returns the registered provider types, sorted.
func ListProviders() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
