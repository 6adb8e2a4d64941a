package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aq2208/course-orders/internal/usecase"
)

// Registry picks the provider for a checkout from configuration: a route per
// currency, else the default provider.
type Registry struct {
	byName     map[string]usecase.Gateway
	byCurrency map[string]string
	def        string
}

func NewRegistry(defaultProvider string, byCurrency map[string]string, gws ...usecase.Gateway) (*Registry, error) {
	r := &Registry{
		byName:     make(map[string]usecase.Gateway, len(gws)),
		byCurrency: make(map[string]string, len(byCurrency)),
		def:        defaultProvider,
	}
	for _, g := range gws {
		r.byName[g.Name()] = g
	}
	if _, ok := r.byName[defaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", defaultProvider)
	}
	for cur, name := range byCurrency {
		r.byCurrency[strings.ToUpper(cur)] = name
	}
	return r, nil
}

func (r *Registry) Get(name string) (usecase.Gateway, bool) {
	g, ok := r.byName[name]
	return g, ok
}

func (r *Registry) ForCurrency(currency string) (usecase.Gateway, error) {
	name, ok := r.byCurrency[strings.ToUpper(currency)]
	if !ok {
		name = r.def
	}
	g, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("provider %q routed for %s is not configured", name, currency)
	}
	return g, nil
}

// Unrouted lists currency routes whose provider is not registered.
func (r *Registry) Unrouted() []string {
	var out []string
	for cur, name := range r.byCurrency {
		if _, ok := r.byName[name]; !ok {
			out = append(out, cur+"->"+name)
		}
	}
	sort.Strings(out)
	return out
}

var _ usecase.GatewayRegistry = (*Registry)(nil)
