package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/G1deonChan/mpdstreaming/internal/metrics"
	"github.com/G1deonChan/mpdstreaming/internal/registry"
)

var resourceRegex = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

type ApiManagerCtx struct {
	logger   zerolog.Logger
	registry *registry.Registry
}

func New(registry *registry.Registry) *ApiManagerCtx {
	return &ApiManagerCtx{
		logger:   log.With().Str("module", "api").Logger(),
		registry: registry,
	}
}

func (a *ApiManagerCtx) Mount(r *chi.Mux) {
	r.Get("/health", a.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/streams", func(r chi.Router) {
		r.Get("/", a.listStreams)
		r.Post("/", a.createStream)

		r.Route("/{streamID}", func(r chi.Router) {
			r.Put("/", a.updateStream)
			r.Delete("/", a.deleteStream)
			r.Get("/status", a.streamStatus)
			r.Post("/start", a.startStream)
			r.Post("/stop", a.stopStream)
			r.Post("/restart", a.restartStream)
		})
	})

	r.Route("/stream/{streamID}", func(r chi.Router) {
		r.Get("/playlist.m3u8", a.servePlaylist)
		r.Get("/{file}.ts", a.serveSegment)
	})
}

func (a *ApiManagerCtx) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"streams":  len(a.registry.Streams()),
		"sessions": len(a.registry.Sessions()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
