package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/G1deonChan/mpdstreaming/internal/clearkey"
	"github.com/G1deonChan/mpdstreaming/internal/config"
	"github.com/G1deonChan/mpdstreaming/internal/metrics"
	"github.com/G1deonChan/mpdstreaming/internal/pipeline"
	"github.com/G1deonChan/mpdstreaming/internal/producer"
)

var (
	ErrStreamNotFound = errors.New("stream not found")
	ErrStreamDisabled = errors.New("stream is disabled")
)

// Options carries the pieces a registry injects into every supervisor it
// creates. Consumer and producer factories are swappable for tests and for
// alternate external tools.
type Options struct {
	OutputRoot  string
	Policy      pipeline.RetryPolicy
	Consumer    pipeline.ConsumerFactory
	Supervision config.Supervision
	Producer    config.Producer
	Client      *http.Client

	// NewProducer overrides the default decrypting producer.
	NewProducer func(stream config.Stream, keys clearkey.Keyring) pipeline.ProducerFunc
}

type entry struct {
	supervisor *pipeline.Supervisor
	snapshot   pipeline.Session
	done       chan struct{}
}

// Registry is the process-wide table of stream configurations and their live
// pipeline sessions. It is the only shared mutable structure: every mutation
// happens under the lock, readers only ever see complete snapshots.
type Registry struct {
	logger zerolog.Logger
	opts   Options

	// sessions outlive the API requests that spawn them, so they run on the
	// registry's own context rather than the caller's
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	streams  map[string]config.Stream
	order    []string
	sessions map[string]*entry
}

func New(opts Options) *Registry {
	if opts.Consumer == nil {
		opts.Consumer = pipeline.FFmpegConsumer(pipeline.DefaultConsumerConfig())
	}
	if opts.Policy == (pipeline.RetryPolicy{}) {
		opts.Policy = pipeline.DefaultRetryPolicy()
	}
	if opts.OutputRoot == "" {
		dir, err := os.MkdirTemp("", "mpdstreaming-hls")
		if err != nil {
			log.Panic().Err(err).Msg("unable to create output root")
		}
		opts.OutputRoot = dir
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		logger:   log.With().Str("module", "registry").Logger(),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		streams:  map[string]config.Stream{},
		sessions: map[string]*entry{},
	}
}

//
// stream configuration
//

// AddStream registers a validated stream configuration.
func (r *Registry) AddStream(stream config.Stream) error {
	if err := stream.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[stream.ID]; !ok {
		r.order = append(r.order, stream.ID)
	}
	r.streams[stream.ID] = stream
	return nil
}

// UpdateStream replaces the configuration of an existing stream. A running
// session keeps its old configuration until restarted.
func (r *Registry) UpdateStream(stream config.Stream) error {
	if err := stream.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[stream.ID]; !ok {
		return ErrStreamNotFound
	}
	r.streams[stream.ID] = stream
	return nil
}

// RemoveStream stops any live session and drops the configuration.
func (r *Registry) RemoveStream(streamID string) error {
	r.Stop(streamID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[streamID]; !ok {
		return ErrStreamNotFound
	}
	delete(r.streams, streamID)
	for i, id := range r.order {
		if id == streamID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Stream looks up a stream configuration.
func (r *Registry) Stream(streamID string) (config.Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, ok := r.streams[streamID]
	return stream, ok
}

// Streams lists all stream configurations in registration order.
func (r *Registry) Streams() []config.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]config.Stream, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.streams[id])
	}
	return out
}

//
// session lifecycle
//

// Start creates and supervises a session for the stream. Starting an already
// live session is a no-op returning the existing snapshot.
func (r *Registry) Start(streamID string) (pipeline.Session, error) {
	r.mu.Lock()

	stream, ok := r.streams[streamID]
	if !ok {
		r.mu.Unlock()
		return pipeline.Session{}, ErrStreamNotFound
	}
	if !stream.Enabled {
		r.mu.Unlock()
		return pipeline.Session{}, ErrStreamDisabled
	}

	if e, ok := r.sessions[streamID]; ok && !e.snapshot.State.Terminal() {
		snapshot := e.snapshot
		r.mu.Unlock()
		return snapshot, nil
	}

	keys, err := stream.Keyring()
	if err != nil {
		// validated at AddStream time, kept as a second line of defense
		r.mu.Unlock()
		return pipeline.Session{}, err
	}

	supervisor := pipeline.NewSupervisor(pipeline.Options{
		StreamID:       streamID,
		OutputDir:      path.Join(r.opts.OutputRoot, streamID),
		OutputURL:      fmt.Sprintf("/stream/%s/%s", streamID, pipeline.PlaylistName),
		Producer:       r.producerFor(stream, keys),
		Consumer:       r.opts.Consumer,
		Policy:         r.opts.Policy,
		ReadyGrace:     r.opts.Supervision.ReadyGrace,
		TerminateGrace: r.opts.Supervision.TerminateGrace,
		OnUpdate:       func(s pipeline.Session) { r.publish(s) },
	})

	e := &entry{
		supervisor: supervisor,
		snapshot:   supervisor.Snapshot(),
		done:       make(chan struct{}),
	}
	r.sessions[streamID] = e
	snapshot := e.snapshot
	r.mu.Unlock()

	r.logger.Info().Str("stream", streamID).Msg("session starting")

	go func() {
		supervisor.Run(r.ctx)
		close(e.done)
	}()

	return snapshot, nil
}

// Stop terminates the session of the stream and removes it from the table.
// Stopping a non-existent session is a no-op.
func (r *Registry) Stop(streamID string) {
	r.mu.Lock()
	e, ok := r.sessions[streamID]
	r.mu.Unlock()

	if !ok {
		return
	}

	e.supervisor.Stop()
	<-e.done

	r.mu.Lock()
	delete(r.sessions, streamID)
	r.mu.Unlock()

	metrics.SessionGone(streamID)
	r.logger.Info().Str("stream", streamID).Msg("session removed")
}

// Restart stops any existing session and starts a fresh one with the restart
// counter reset.
func (r *Registry) Restart(streamID string) (pipeline.Session, error) {
	r.Stop(streamID)
	return r.Start(streamID)
}

// StartEnabled starts sessions for every enabled stream, used at boot.
func (r *Registry) StartEnabled() {
	for _, stream := range r.Streams() {
		if !stream.Enabled {
			continue
		}
		if _, err := r.Start(stream.ID); err != nil {
			r.logger.Warn().Err(err).Str("stream", stream.ID).Msg("unable to start stream")
		}
	}
}

// Shutdown stops all live sessions and prevents new ones from running.
func (r *Registry) Shutdown() {
	for _, session := range r.Sessions() {
		r.Stop(session.StreamID)
	}
	r.cancel()
}

//
// status surface
//

// Status returns the session snapshot of the stream. Never blocks on the
// supervised processes.
func (r *Registry) Status(streamID string) (pipeline.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[streamID]
	if !ok {
		return pipeline.Session{}, false
	}
	return e.snapshot, true
}

// Sessions lists the snapshots of all sessions.
func (r *Registry) Sessions() []pipeline.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]pipeline.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.snapshot)
	}
	return out
}

// OutputDir resolves the HLS output directory of a stream.
func (r *Registry) OutputDir(streamID string) string {
	return path.Join(r.opts.OutputRoot, streamID)
}

// publish atomically replaces the externally visible snapshot.
func (r *Registry) publish(snapshot pipeline.Session) {
	r.mu.Lock()
	e, ok := r.sessions[snapshot.StreamID]
	var previous pipeline.Session
	if ok {
		previous = e.snapshot
		e.snapshot = snapshot
	}
	r.mu.Unlock()

	if ok {
		metrics.SessionUpdate(previous, snapshot)
	}
}

func (r *Registry) producerFor(stream config.Stream, keys clearkey.Keyring) pipeline.ProducerFunc {
	if r.opts.NewProducer != nil {
		return r.opts.NewProducer(stream, keys)
	}

	p := producer.New(producer.Config{
		ManifestURL:     stream.URL,
		Keys:            keys,
		RefreshInterval: r.opts.Producer.RefreshInterval,
		ManifestTimeout: r.opts.Producer.ManifestTimeout,
		FetchTimeout:    r.opts.Producer.FetchTimeout,
		FetchRetries:    r.opts.Producer.FetchRetries,
		Client:          r.opts.Client,
	})
	return p.Run
}
