package indicator

import (
	"sync"

	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// Registry manages all available indicators.
type Registry interface {
	Register(ind Indicator) error
	Get(name types.IndicatorType) (Indicator, error)
	List() []types.IndicatorType
	Remove(name types.IndicatorType) error
}

// RegistryV1 is a mutex-guarded in-memory Registry.
type RegistryV1 struct {
	indicators map[types.IndicatorType]Indicator
	mu         sync.RWMutex
}

var _ Registry = (*RegistryV1)(nil)

// NewRegistry creates an empty indicator registry.
func NewRegistry() Registry {
	return &RegistryV1{
		indicators: make(map[types.IndicatorType]Indicator),
		mu:         sync.RWMutex{},
	}
}

// NewDefaultRegistry creates a registry with every built-in indicator
// registered.
func NewDefaultRegistry() Registry {
	registry := NewRegistry()
	for _, ind := range []Indicator{
		NewRSI(),
		NewMACD(),
		NewBollingerBands(),
		NewEMA(),
		NewATR(),
		NewMA(),
	} {
		// Register only fails on duplicates, which cannot happen here.
		_ = registry.Register(ind)
	}

	return registry
}

// Register adds an indicator to the registry.
func (r *RegistryV1) Register(ind Indicator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := ind.Name()
	if _, exists := r.indicators[name]; exists {
		return errors.Newf(errors.ErrCodeIndicatorAlreadyExists, "indicator %s already registered", name)
	}

	r.indicators[name] = ind

	return nil
}

// Get retrieves an indicator by name.
func (r *RegistryV1) Get(name types.IndicatorType) (Indicator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ind, exists := r.indicators[name]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeIndicatorNotFound, "indicator %s not found", name)
	}

	return ind, nil
}

// List returns the names of all registered indicators.
func (r *RegistryV1) List() []types.IndicatorType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]types.IndicatorType, 0, len(r.indicators))
	for name := range r.indicators {
		names = append(names, name)
	}

	return names
}

// Remove removes an indicator from the registry.
func (r *RegistryV1) Remove(name types.IndicatorType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.indicators[name]; !exists {
		return errors.Newf(errors.ErrCodeIndicatorNotFound, "indicator %s not found", name)
	}

	delete(r.indicators, name)

	return nil
}
