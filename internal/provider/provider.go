// internal/provider/provider.go
package provider

import (
	"context"
	"sync"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
)

// SendResult is what a channel provider reports back for one send.
type SendResult struct {
	Success           bool
	ProviderResponse  string
	ProviderMessageID string
}

// Provider delivers one message on one channel. Implementations must respect
// the context deadline; a hung provider is the caller's timeout to enforce.
type Provider interface {
	ID() string
	Send(ctx context.Context, recipientID, channel, content string) (*SendResult, error)
}

// Registry maps channel types to providers. Multiple providers may back the
// same channel; the first registered wins unless a later one is registered as
// default for that channel.
type Registry struct {
	mu        sync.RWMutex
	providers map[string][]Provider
	defaults  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string][]Provider),
		defaults:  make(map[string]string),
	}
}

func (r *Registry) Register(channel string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[channel] = append(r.providers[channel], p)
}

func (r *Registry) RegisterDefault(channel string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[channel] = append(r.providers[channel], p)
	r.defaults[channel] = p.ID()
}

// Resolve picks the provider for a channel.
func (r *Registry) Resolve(channel string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.providers[channel]
	if len(list) == 0 {
		return nil, appErrors.NewValidation("channel", "no provider registered for "+channel)
	}
	if def, ok := r.defaults[channel]; ok {
		for _, p := range list {
			if p.ID() == def {
				return p, nil
			}
		}
	}
	return list[0], nil
}

func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for ch := range r.providers {
		out = append(out, ch)
	}
	return out
}
