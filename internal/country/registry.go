package country

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrUnknownCountry is returned by Get for a code with no plugin.
var ErrUnknownCountry = eris.New("country: unknown country")

// Registry maps country codes to their plugins.
type Registry struct {
	plugins map[string]Plugin
	order   []string // registration order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin. Registering the same code twice is an error.
func (r *Registry) Register(p Plugin) error {
	code := strings.ToLower(p.Code())
	if _, ok := r.plugins[code]; ok {
		return eris.Errorf("country: plugin %q already registered", code)
	}
	r.plugins[code] = p
	r.order = append(r.order, code)
	return nil
}

// Get returns the plugin for code.
func (r *Registry) Get(code string) (Plugin, error) {
	p, ok := r.plugins[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownCountry, "country: get %q", code)
	}
	return p, nil
}

// Select returns the plugins for codes in the given order. Unknown codes are
// logged and skipped; duplicates are returned once.
func (r *Registry) Select(codes []string) []Plugin {
	seen := make(map[string]bool, len(codes))
	out := make([]Plugin, 0, len(codes))
	for _, code := range codes {
		p, err := r.Get(code)
		if err != nil {
			zap.L().Warn("skipping unknown country", zap.String("country", code))
			continue
		}
		if seen[p.Code()] {
			continue
		}
		seen[p.Code()] = true
		out = append(out, p)
	}
	return out
}

// Codes returns all registered codes in registration order.
func (r *Registry) Codes() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
