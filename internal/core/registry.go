package core

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Registry maps entity names to their services. It is built once at
// startup and passed to whatever needs it.
type Registry struct {
	mu       sync.RWMutex
	services map[string]EntityService
}

// NewRegistry registers services and checks that every foreign key targets
// a registered entity.
func NewRegistry(services ...EntityService) (*Registry, error) {
	r := &Registry{services: make(map[string]EntityService, len(services))}
	for _, svc := range services {
		if err := r.Register(svc); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds a service after validating its schema.
// Registering the same entity twice is an error.
func (r *Registry) Register(svc EntityService) error {
	schema := svc.Schema()
	if err := schema.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[schema.Entity]; exists {
		return errors.Newf("entity already registered: %s", schema.Entity)
	}
	r.services[schema.Entity] = svc
	return nil
}

// Validate checks cross-entity references.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var problems []string
	for name, svc := range r.services {
		for _, fk := range svc.Schema().ForeignKeys {
			if _, ok := r.services[fk.Entity]; !ok {
				problems = append(problems, name+"."+fk.Field+" references unknown entity "+fk.Entity)
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.Newf("registry: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Get returns the service for entity, or an error marked ErrUnsupportedEntity.
func (r *Registry) Get(entity string) (EntityService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[entity]
	if !ok {
		return nil, errors.Mark(errors.Newf("unsupported entity %q", entity), ErrUnsupportedEntity)
	}
	return svc, nil
}

// All returns every service sorted by entity name.
func (r *Registry) All() []EntityService {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]EntityService, 0, len(r.services))
	for _, svc := range r.services {
		result = append(result, svc)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Schema().Entity < result[j].Schema().Entity
	})
	return result
}

// Names returns the registered entity names, sorted.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, svc := range all {
		names[i] = svc.Schema().Entity
	}
	return names
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
