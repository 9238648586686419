package providers

import (
	"fmt"
	"time"

	"genrouter/config"
	"genrouter/internal/core"
)

// DefaultTimeout applies when neither the config nor the provider profile sets one.
const DefaultTimeout = 15 * time.Second

// DefaultPriority is used for a supported task type with no explicit priority.
const DefaultPriority = 100

// adapterSpec is the fully resolved description of one registry entry after
// merging the provider type's profile with its configuration.
type adapterSpec struct {
	name            string
	providerType    string
	baseURL         string
	models          []string
	taskTypes       map[core.TaskType]bool
	priority        map[core.TaskType]int
	defaultPriority int
	pricing         map[string]core.Pricing
	timeout         time.Duration
	limiter         *Limiter
}

// resolveAdapterSpec merges cfg over profile. Config values win; empty config
// fields fall back to the profile.
func resolveAdapterSpec(name string, cfg config.ProviderConfig, profile Profile) (adapterSpec, error) {
	spec := adapterSpec{
		name:            name,
		providerType:    cfg.Type,
		baseURL:         firstNonEmpty(cfg.BaseURL, profile.BaseURL),
		defaultPriority: DefaultPriority,
		timeout:         DefaultTimeout,
		limiter:         NewLimiter(cfg.RateLimit),
	}

	spec.models = cfg.Models
	if len(spec.models) == 0 {
		spec.models = profile.Models
	}
	if len(spec.models) == 0 {
		return adapterSpec{}, fmt.Errorf("provider %q: no models configured", name)
	}
	spec.models = append([]string(nil), spec.models...)

	tasks, err := resolveTaskTypes(name, cfg.TaskTypes, profile.TaskTypes)
	if err != nil {
		return adapterSpec{}, err
	}
	spec.taskTypes = tasks

	spec.priority = make(map[core.TaskType]int, len(core.AllTaskTypes))
	for task, p := range profile.Priority {
		spec.priority[task] = p
	}
	for key, p := range cfg.Priority {
		task := core.TaskType(key)
		if !task.Valid() {
			return adapterSpec{}, fmt.Errorf("provider %q: unknown task type %q in priority", name, key)
		}
		spec.priority[task] = p
	}
	if cfg.DefaultPriority > 0 {
		spec.defaultPriority = cfg.DefaultPriority
	}

	spec.pricing, err = resolvePricing(name, cfg.Pricing, profile.Pricing)
	if err != nil {
		return adapterSpec{}, err
	}

	switch {
	case cfg.Timeout > 0:
		spec.timeout = cfg.Timeout
	case profile.Timeout > 0:
		spec.timeout = profile.Timeout
	}

	return spec, nil
}

func resolveTaskTypes(name string, configured []string, profile []core.TaskType) (map[core.TaskType]bool, error) {
	tasks := make(map[core.TaskType]bool, len(core.AllTaskTypes))
	switch {
	case len(configured) > 0:
		for _, raw := range configured {
			task := core.TaskType(raw)
			if !task.Valid() {
				return nil, fmt.Errorf("provider %q: unknown task type %q", name, raw)
			}
			tasks[task] = true
		}
	case len(profile) > 0:
		for _, task := range profile {
			tasks[task] = true
		}
	default:
		for _, task := range core.AllTaskTypes {
			tasks[task] = true
		}
	}
	return tasks, nil
}

func resolvePricing(name string, cfg config.PricingConfig, profile map[string]core.Pricing) (map[string]core.Pricing, error) {
	pricing := make(map[string]core.Pricing, len(profile)+len(cfg.Models)+1)
	for model, p := range profile {
		pricing[model] = p
	}
	if cfg.InputPerToken != 0 || cfg.OutputPerToken != 0 {
		pricing[""] = core.Pricing{InputPerToken: cfg.InputPerToken, OutputPerToken: cfg.OutputPerToken}
	}
	for model, p := range cfg.Models {
		pricing[model] = core.Pricing{InputPerToken: p.InputPerToken, OutputPerToken: p.OutputPerToken}
	}
	for model, p := range pricing {
		if p.InputPerToken < 0 || p.OutputPerToken < 0 {
			return nil, fmt.Errorf("provider %q: negative price for model %q", name, model)
		}
	}
	return pricing, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
