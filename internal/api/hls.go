package api

import (
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/G1deonChan/mpdstreaming/internal/pipeline"
)

// servePlaylist hands out the HLS playlist written by the consumer. The
// playlist only exists once the pipeline reached its running state at least
// once.
func (a *ApiManagerCtx) servePlaylist(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	if !resourceRegex.MatchString(streamID) {
		http.Error(w, "400 invalid parameters", http.StatusBadRequest)
		return
	}

	if _, ok := a.registry.Status(streamID); !ok {
		http.Error(w, "404 stream not running", http.StatusNotFound)
		return
	}

	playlist := path.Join(a.registry.OutputDir(streamID), pipeline.PlaylistName)
	if _, err := os.Stat(playlist); err != nil {
		http.Error(w, "404 playlist not ready", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, playlist)
}

func (a *ApiManagerCtx) serveSegment(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	file := chi.URLParam(r, "file")

	if !resourceRegex.MatchString(streamID) || !resourceRegex.MatchString(file) {
		http.Error(w, "400 invalid parameters", http.StatusBadRequest)
		return
	}

	segment := path.Join(a.registry.OutputDir(streamID), file+".ts")
	if _, err := os.Stat(segment); err != nil {
		http.Error(w, "404 segment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	http.ServeFile(w, r, segment)
}
