package venue

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"sigex/internal/application/port"
	"sigex/internal/infrastructure/config"
)

// Registry resolves signal venue names onto configured adapters. Disabled
// venues are simply absent, so their signals fail as unknown.
type Registry struct {
	adapters map[string]port.VenueAdapter
}

func NewRegistry(venues map[string]config.VenueConfig) (*Registry, error) {
	r := &Registry{adapters: make(map[string]port.VenueAdapter)}
	for name, vc := range venues {
		if !vc.Enabled {
			continue
		}
		switch name {
		case "hyperliquid":
			r.adapters[name] = NewHyperliquid(vc.BaseURL, vc.Timeout())
		case "aster":
			r.adapters[name] = NewAster(vc.BaseURL, vc.Timeout())
		case "ostium":
			r.adapters[name] = NewOstium(vc.BaseURL, vc.Timeout())
		default:
			return nil, fmt.Errorf("no adapter for venue %q", name)
		}
		log.Info().Str("venue", name).Str("base_url", vc.BaseURL).Msg("venue adapter registered")
	}
	return r, nil
}

func (r *Registry) Adapter(name string) (port.VenueAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists registered venues in stable order, for logs.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ port.VenueResolver = (*Registry)(nil)
