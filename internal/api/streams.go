package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/G1deonChan/mpdstreaming/internal/config"
	"github.com/G1deonChan/mpdstreaming/internal/pipeline"
	"github.com/G1deonChan/mpdstreaming/internal/registry"
)

// streamPayload is the management API representation of a stream. A stream
// may be given either as explicit fields or as a Kodi property block.
type streamPayload struct {
	config.Stream
	KodiProps string `json:"kodi_props,omitempty"`
}

// streamStatusPayload combines the configuration with the live session, if
// one exists.
type streamStatusPayload struct {
	config.Stream
	Session *pipeline.Session `json:"session,omitempty"`
}

func (a *ApiManagerCtx) listStreams(w http.ResponseWriter, r *http.Request) {
	streams := a.registry.Streams()

	out := make([]streamStatusPayload, 0, len(streams))
	for _, stream := range streams {
		payload := streamStatusPayload{Stream: stream}
		if session, ok := a.registry.Status(stream.ID); ok {
			payload.Session = &session
		}
		out = append(out, payload)
	}

	writeJSON(w, http.StatusOK, out)
}

func (a *ApiManagerCtx) createStream(w http.ResponseWriter, r *http.Request) {
	stream, err := decodeStream(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if stream.ID == "" {
		stream.ID = uuid.NewString()
	}
	if _, exists := a.registry.Stream(stream.ID); exists {
		writeError(w, http.StatusConflict, errors.New("stream id already exists"))
		return
	}

	if err := a.registry.AddStream(stream); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.logger.Info().Str("stream", stream.ID).Str("url", stream.URL).Msg("stream created")

	if stream.Enabled {
		if _, err := a.registry.Start(stream.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, stream)
}

func (a *ApiManagerCtx) updateStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	stream, err := decodeStream(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stream.ID = streamID

	if err := a.registry.UpdateStream(stream); err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stream)
}

func (a *ApiManagerCtx) deleteStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	if err := a.registry.RemoveStream(streamID); err != nil {
		writeRegistryError(w, err)
		return
	}

	a.logger.Info().Str("stream", streamID).Msg("stream deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (a *ApiManagerCtx) streamStatus(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	stream, ok := a.registry.Stream(streamID)
	if !ok {
		writeRegistryError(w, registry.ErrStreamNotFound)
		return
	}

	payload := streamStatusPayload{Stream: stream}
	if session, ok := a.registry.Status(streamID); ok {
		payload.Session = &session
	}

	writeJSON(w, http.StatusOK, payload)
}

func (a *ApiManagerCtx) startStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	session, err := a.registry.Start(streamID)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (a *ApiManagerCtx) stopStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	if _, ok := a.registry.Stream(streamID); !ok {
		writeRegistryError(w, registry.ErrStreamNotFound)
		return
	}

	a.registry.Stop(streamID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *ApiManagerCtx) restartStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	session, err := a.registry.Restart(streamID)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func decodeStream(r *http.Request) (config.Stream, error) {
	var payload streamPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return config.Stream{}, err
	}

	if payload.KodiProps != "" {
		stream, err := config.ParseKodiProps(payload.KodiProps)
		if err != nil {
			return config.Stream{}, err
		}
		// explicit fields win over the property block
		stream.ID = payload.ID
		if payload.Name != "" {
			stream.Name = payload.Name
		}
		return stream, nil
	}

	stream := payload.Stream
	if stream.LicenseType == "" {
		stream.LicenseType = config.LicenseNone
	}
	if stream.ManifestType == "" {
		stream.ManifestType = "mpd"
	}
	return stream, nil
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrStreamNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, registry.ErrStreamDisabled):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}
