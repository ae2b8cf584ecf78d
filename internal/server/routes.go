package server

import (
	"net/url"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/roginn/towd-you-so/internal/api/v1"
	"github.com/roginn/towd-you-so/internal/api/ws"
)

func registerAPIRoutes(api huma.API, store v1.DataStore) {
	v1.RegisterSessionRoutes(api, store)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/{sessionID}", hub.ServeSession)
}

// originPatterns converts CORS origins to the host patterns the WebSocket
// accept check matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			patterns = append(patterns, o)
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			patterns = append(patterns, o)
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}
