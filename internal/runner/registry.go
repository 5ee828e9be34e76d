package runner

import (
	"sync"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// JobFactory reconstructs a job from its serialized spec.
type JobFactory func(spec schema.JobSpec) (schema.Job, error)

// Registry maps job classes to factories so the worker process can rebuild
// portable jobs from a payload. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]JobFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]JobFactory)}
}

// Register binds a factory to a job class. Re-registering a class replaces
// the previous factory.
func (r *Registry) Register(class string, factory JobFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[class] = factory
}

// Classes returns the registered class names.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for class := range r.factories {
		out = append(out, class)
	}
	return out
}

// FromSpec rebuilds a job from its spec.
func (r *Registry) FromSpec(spec schema.JobSpec) (schema.Job, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Class]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no factory registered for job class %q", spec.Class)
	}
	return factory(spec)
}

// Decode unpacks the base64 spec string carried in a worker payload and
// rebuilds the job.
func (r *Registry) Decode(encoded string) (schema.Job, error) {
	spec, err := schema.DecodeJobSpec(encoded)
	if err != nil {
		return nil, err
	}
	return r.FromSpec(spec)
}
