package bridge

import (
	"github.com/omni/bridge-core/config"
)

// Route identifies one direction of a whitelisted 1:1 wrapped token pair.
type Route struct {
	SourceChain      string
	DestinationChain string
	SourceToken      string
	DestinationToken string
}

// Routes is the closed whitelist of supported transfer routes.
type Routes struct {
	byRoute map[Route]*config.RouteConfig
}

func NewRoutes(cfgs []*config.RouteConfig) *Routes {
	byRoute := make(map[Route]*config.RouteConfig, len(cfgs))
	for _, cfg := range cfgs {
		byRoute[Route{
			SourceChain:      cfg.SourceChain,
			DestinationChain: cfg.DestinationChain,
			SourceToken:      cfg.SourceToken,
			DestinationToken: cfg.DestinationToken,
		}] = cfg
	}
	return &Routes{byRoute: byRoute}
}

func (r *Routes) Lookup(route Route) (*config.RouteConfig, bool) {
	cfg, ok := r.byRoute[route]
	return cfg, ok
}
