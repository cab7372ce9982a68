package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/kioaccess/pkg/stream"
)

// ErrNoProvider is returned when no provider is registered for a URL scheme.
var ErrNoProvider = errors.New("no provider for scheme")

// Registry maps URL schemes to providers. It is safe for concurrent use.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.Register(httpProvider, "http", "https")
//	reg.Register(s3Provider, "s3")
//
//	u, _ := BuildURL("https", "cdn.example.com/movie.mkv")
//	if reg.CanOpen(u) { ... }
type Registry struct {
	mu      sync.RWMutex
	schemes map[string]stream.Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemes: make(map[string]stream.Provider),
	}
}

// Register binds p to each scheme. Schemes are case-insensitive.
// Returns an error if a scheme is already taken; nothing is registered then.
func (r *Registry) Register(p stream.Provider, schemes ...string) error {
	if p == nil {
		return fmt.Errorf("cannot register nil provider")
	}
	if len(schemes) == 0 {
		return fmt.Errorf("provider %q registered without schemes", p.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	normalized := make([]string, 0, len(schemes))
	for _, s := range schemes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return fmt.Errorf("cannot register provider %q with empty scheme", p.Name())
		}
		if existing, exists := r.schemes[s]; exists {
			return fmt.Errorf("scheme %q already registered to provider %q", s, existing.Name())
		}
		normalized = append(normalized, s)
	}

	for _, s := range normalized {
		r.schemes[s] = p
	}
	return nil
}

// Unregister removes the provider bound to scheme.
func (r *Registry) Unregister(scheme string) error {
	scheme = strings.ToLower(scheme)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemes[scheme]; !exists {
		return fmt.Errorf("%w %q", ErrNoProvider, scheme)
	}
	delete(r.schemes, scheme)
	return nil
}

// Lookup returns the provider for u's scheme.
func (r *Registry) Lookup(u *url.URL) (stream.Provider, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil URL", ErrNoProvider)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoProvider, u.Scheme)
	}
	return p, nil
}

// CanOpen is the capability probe: a provider is registered for u's scheme
// and accepts u.
func (r *Registry) CanOpen(u *url.URL) bool {
	p, err := r.Lookup(u)
	if err != nil {
		return false
	}
	return p.CanOpen(u)
}

// Schemes returns the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.schemes))
	for s := range r.schemes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ListProviders returns the distinct provider names in sorted order.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.schemes))
	for _, p := range r.schemes {
		seen[p.Name()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CountProviders returns the number of distinct providers.
func (r *Registry) CountProviders() int {
	return len(r.ListProviders())
}

// BuildURL joins scheme and path as scheme + "://" + path and parses the
// result.
func BuildURL(scheme, path string) (*url.URL, error) {
	if scheme == "" {
		return nil, errors.New("empty scheme")
	}
	u, err := url.Parse(scheme + "://" + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	return u, nil
}
