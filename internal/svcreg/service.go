// Package svcreg is the gateway's service registry (spec §4.B): an
// in-memory catalog of priced upstream routes, loaded once at startup
// from a JSON catalog file and treated as immutable thereafter.
package svcreg

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Service describes a single priced, proxyable route (spec §3).
type Service struct {
	ID           string            `json:"id"`
	DisplayName  string            `json:"display_name"`
	Description  string            `json:"description"`
	Price        string            `json:"price"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	UpstreamTag  string            `json:"upstream_tag"`
	CostEstimate string            `json:"cost_estimate,omitempty"`
	InputSchema  json.RawMessage   `json:"input_schema,omitempty"`
	MimeType     string            `json:"mime_type,omitempty"`
	Category     string            `json:"category,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Registry is an immutable-after-load catalog of services.
type Registry struct {
	byID    map[string]Service
	byRoute map[string]Service // "METHOD path" -> Service, for exact match
}

// Load reads a JSON catalog file and builds a Registry, enforcing the
// service invariants from spec §3: (method,path) uniqueness and a price
// string with at most 9 fractional digits.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("svcreg: read catalog %s: %w", path, err)
	}

	var raw struct {
		Services []Service `json:"services"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("svcreg: parse catalog %s: %w", path, err)
	}

	return build(raw.Services)
}

// LoadFromServices builds a Registry directly from an in-memory slice,
// applying the same invariants as Load. Useful for tests and for
// catalogs assembled from multiple sources.
func LoadFromServices(services []Service) (*Registry, error) {
	return build(services)
}

func build(services []Service) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]Service, len(services)),
		byRoute: make(map[string]Service, len(services)),
	}

	for _, svc := range services {
		if svc.ID == "" {
			return nil, fmt.Errorf("svcreg: service with empty id")
		}
		if _, exists := r.byID[svc.ID]; exists {
			return nil, fmt.Errorf("svcreg: duplicate service id %q", svc.ID)
		}
		if err := validatePrice(svc.Price); err != nil {
			return nil, fmt.Errorf("svcreg: service %q: %w", svc.ID, err)
		}

		routeKey := routeKey(svc.Method, svc.Path)
		if existing, exists := r.byRoute[routeKey]; exists {
			return nil, fmt.Errorf("svcreg: duplicate route %s %s (services %q and %q)", svc.Method, svc.Path, existing.ID, svc.ID)
		}

		r.byID[svc.ID] = svc
		r.byRoute[routeKey] = svc
	}

	return r, nil
}

// validatePrice enforces spec §3's "price is exactly representable in
// decimal with <= 9 fractional digits" invariant, without performing any
// floating-point conversion.
func validatePrice(price string) error {
	trimmed := strings.TrimPrefix(price, "$")
	if trimmed == "" {
		return fmt.Errorf("empty price")
	}
	parts := strings.SplitN(trimmed, ".", 2)
	if _, err := strconv.ParseUint(nonEmpty(parts[0], "0"), 10, 64); err != nil {
		if parts[0] != "" {
			return fmt.Errorf("malformed price %q", price)
		}
	}
	if len(parts) == 2 {
		if len(parts[1]) > 9 {
			return fmt.Errorf("price %q has more than 9 fractional digits", price)
		}
		for _, c := range parts[1] {
			if c < '0' || c > '9' {
				return fmt.Errorf("malformed price %q", price)
			}
		}
	}
	for _, c := range parts[0] {
		if c < '0' || c > '9' {
			return fmt.Errorf("malformed price %q", price)
		}
	}
	return nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Get returns the service with the given ID.
func (r *Registry) Get(id string) (Service, bool) {
	svc, ok := r.byID[id]
	return svc, ok
}

// All returns every registered service. Order is unspecified.
func (r *Registry) All() []Service {
	out := make([]Service, 0, len(r.byID))
	for _, svc := range r.byID {
		out = append(out, svc)
	}
	return out
}

// Match finds the service whose method and path exactly match the
// request, where path is compared up to (and excluding) any query
// string. Returns false if no service matches.
func (r *Registry) Match(method, path string) (Service, bool) {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	svc, ok := r.byRoute[routeKey(method, path)]
	return svc, ok
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}
