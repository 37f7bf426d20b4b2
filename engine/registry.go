package engine

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"SpoofDetServer/backend"
	iface "SpoofDetServer/interface"
	"SpoofDetServer/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry maps engine ids to live engines for the server transports.
type Registry struct {
	mu         sync.RWMutex
	engines    map[string]*Engine
	newBackend backend.Factory
	opts       []Option

	// OnChange, if set, is called with the engine count after every create
	// or destroy.
	OnChange func(active int)
}

func NewRegistry(newBackend backend.Factory, opts ...Option) *Registry {
	return &Registry{
		engines:    make(map[string]*Engine),
		newBackend: newBackend,
		opts:       opts,
	}
}

func (r *Registry) notify(n int) {
	if r.OnChange != nil {
		r.OnChange(n)
	}
}

// Create registers a new engine and returns its id.
func (r *Registry) Create(description string) (*Engine, error) {
	id := uuid.NewString()
	opts := append(slices.Clone(r.opts), withID(id), WithDescription(description))
	e, err := New(r.newBackend, opts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.engines[id] = e
	n := len(r.engines)
	r.mu.Unlock()
	r.notify(n)
	logger.Log().Info("engine created", zap.String("id", id), zap.String("description", description))
	return e, nil
}

// Get returns ErrInvalidHandle for unknown ids.
func (r *Registry) Get(id string) (*Engine, error) {
	r.mu.RLock()
	e, ok := r.engines[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine %q not found", iface.ErrInvalidHandle, id)
	}
	return e, nil
}

// Destroy removes the engine and releases its models.
func (r *Registry) Destroy(id string) error {
	r.mu.Lock()
	e, ok := r.engines[id]
	delete(r.engines, id)
	n := len(r.engines)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: engine %q not found", iface.ErrInvalidHandle, id)
	}
	r.notify(n)
	return e.Destroy()
}

// List returns engine summaries ordered by id.
func (r *Registry) List() []iface.EngineInfo {
	r.mu.RLock()
	all := maps.Clone(r.engines)
	r.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(all))
	out := make([]iface.EngineInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, all[id].Info())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// DestroyAll releases every engine. Errors are logged, not returned.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	all := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()
	for id, e := range all {
		if err := e.Destroy(); err != nil {
			logger.Log().Error("destroy engine", zap.String("id", id), zap.Error(err))
		}
	}
	r.notify(0)
}
