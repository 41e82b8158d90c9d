package provider

import (
	"sort"
	"sync"
	"time"
)

type State struct {
	Capability          string        `json:"capability"`
	Provider            string        `json:"provider"`
	Healthy             bool          `json:"healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastClass           Class         `json:"last_class,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	LastLatency         time.Duration `json:"last_latency"`
	LastUpdated         time.Time     `json:"last_updated"`
}

// Registry tracks the latest outcome per (capability, provider). Entries older
// than the TTL are reported as healthy again so a recovered provider is retried.
type Registry struct {
	mu   sync.RWMutex
	data map[string]State
	ttl  time.Duration
	now  func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Registry{
		data: make(map[string]State),
		ttl:  ttl,
		now:  time.Now,
	}
}

func key(capability, provider string) string {
	return capability + "/" + provider
}

// Register adds a provider in the healthy state if it is not known yet.
func (r *Registry) Register(capability, provider string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(capability, provider)
	if _, ok := r.data[k]; ok {
		return
	}
	r.data[k] = State{
		Capability:  capability,
		Provider:    provider,
		Healthy:     true,
		LastUpdated: r.now(),
	}
}

func (r *Registry) Record(capability, provider string, err error, latency time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(capability, provider)
	state := r.data[k]
	state.Capability = capability
	state.Provider = provider
	state.LastLatency = latency
	state.LastUpdated = r.now()
	if err == nil {
		state.Healthy = true
		state.ConsecutiveFailures = 0
		state.LastClass = ""
		state.LastError = ""
	} else {
		state.Healthy = false
		state.ConsecutiveFailures++
		state.LastClass = Classify(err)
		state.LastError = err.Error()
	}
	r.data[k] = state
}

func (r *Registry) Get(capability, provider string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.data[key(capability, provider)]
	if !ok {
		return State{}, false
	}
	return r.view(state), true
}

func (r *Registry) List() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]State, 0, len(r.data))
	for _, state := range r.data {
		out = append(out, r.view(state))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Capability != out[j].Capability {
			return out[i].Capability < out[j].Capability
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, state := range r.data {
		if _, ok := seen[state.Capability]; ok {
			continue
		}
		seen[state.Capability] = struct{}{}
		out = append(out, state.Capability)
	}
	sort.Strings(out)
	return out
}

// Serving is false only when every known provider of the capability failed
// within the TTL.
func (r *Registry) Serving(capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	known := false
	for _, state := range r.data {
		if state.Capability != capability {
			continue
		}
		known = true
		if r.view(state).Healthy {
			return true
		}
	}
	return !known
}

func (r *Registry) view(state State) State {
	if !state.Healthy && r.now().Sub(state.LastUpdated) > r.ttl {
		state.Healthy = true
	}
	return state
}
