package providers

import (
	"fmt"
	"log/slog"
	"sort"

	"genrouter/internal/core"
)

// Registry is the ordered set of adapters the router dispatches over.
// It is built once at startup and never mutated afterwards, so reads need no locking.
type Registry struct {
	adapters []core.Adapter
	byName   map[string]core.Adapter
	// byModel maps a model id to the adapter that owns it. The first
	// registered adapter listing a model owns it.
	byModel map[string]core.Adapter
}

// NewRegistry builds a registry. Registration order is the tie-breaker for
// equal priorities. Adapter names must be unique.
func NewRegistry(adapters ...core.Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make([]core.Adapter, 0, len(adapters)),
		byName:   make(map[string]core.Adapter, len(adapters)),
		byModel:  make(map[string]core.Adapter),
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if _, dup := r.byName[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider name: %s", a.Name())
		}
		r.adapters = append(r.adapters, a)
		r.byName[a.Name()] = a
		for _, model := range a.Models() {
			if owner, taken := r.byModel[model]; taken {
				slog.Debug("model already registered, skipping",
					"model", model,
					"owner", owner.Name(),
					"provider", a.Name(),
				)
				continue
			}
			r.byModel[model] = a
		}
	}
	return r, nil
}

// CandidatesFor returns the adapters to try for a task, in order.
//
// Adapters that do not support the task are dropped and the rest are sorted by
// Priority ascending, ties kept in registration order. When modelOverride is
// set, the adapter owning that model is forced to the front whether or not it
// lists the task; core.ErrUnknownModel is returned if no adapter owns it.
func (r *Registry) CandidatesFor(task core.TaskType, modelOverride string) ([]core.Adapter, error) {
	var owner core.Adapter
	if modelOverride != "" {
		var ok bool
		owner, ok = r.OwnerOf(modelOverride)
		if !ok {
			return nil, core.NewInvalidRequestError(
				fmt.Sprintf("model %q is not served by any configured provider", modelOverride),
				core.ErrUnknownModel,
			)
		}
	}

	candidates := make([]core.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a == owner || !a.Supports(task) {
			continue
		}
		candidates = append(candidates, a)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority(task) < candidates[j].Priority(task)
	})

	if owner != nil {
		candidates = append([]core.Adapter{owner}, candidates...)
	}
	return candidates, nil
}

// OwnerOf returns the adapter that owns model.
func (r *Registry) OwnerOf(model string) (core.Adapter, bool) {
	a, ok := r.byModel[model]
	return a, ok
}

// Adapters returns all adapters in registration order.
func (r *Registry) Adapters() []core.Adapter {
	return append([]core.Adapter(nil), r.adapters...)
}

// Models returns every routable model id in sorted order.
func (r *Registry) Models() []string {
	models := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}
