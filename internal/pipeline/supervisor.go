package pipeline

import (
	"context"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ProducerFunc runs the decrypting producer, writing the continuous media
// byte stream into w until the context is cancelled or the stream ends.
type ProducerFunc func(ctx context.Context, w io.Writer) error

type Options struct {
	StreamID  string
	OutputDir string
	OutputURL string

	Producer ProducerFunc
	Consumer ConsumerFactory
	Policy   RetryPolicy

	ReadyGrace     time.Duration
	TerminateGrace time.Duration
	PollInterval   time.Duration

	// OnUpdate receives a snapshot copy after every state transition.
	OnUpdate func(Session)
}

func (o *Options) withDefaults() {
	if o.ReadyGrace == 0 {
		o.ReadyGrace = 10 * time.Second
	}
	if o.TerminateGrace == 0 {
		o.TerminateGrace = 5 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.Policy == (RetryPolicy{}) {
		o.Policy = DefaultRetryPolicy()
	}
}

// Supervisor owns one pipeline session: it spawns the producer and the
// external consumer, connects them through a bounded pipe and decides on
// failure whether to restart, back off or give up.
type Supervisor struct {
	logger zerolog.Logger
	opts   Options

	mu      sync.Mutex
	session Session

	stopOnce sync.Once
	stopCh   chan struct{}

	networkRetries int
}

func NewSupervisor(opts Options) *Supervisor {
	opts.withDefaults()

	return &Supervisor{
		logger: log.With().Str("module", "pipeline").Str("stream", opts.StreamID).Logger(),
		opts:   opts,
		session: Session{
			StreamID:  opts.StreamID,
			State:     StateStarting,
			OutputURL: opts.OutputURL,
		},
		stopCh: make(chan struct{}),
	}
}

// Snapshot returns a copy of the current session state.
func (s *Supervisor) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Stop requests termination of the session. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Run supervises the session until it reaches a terminal state.
func (s *Supervisor) Run(ctx context.Context) {
	s.transition(func(sn *Session) {
		sn.State = StateStarting
		sn.StartedAt = time.Now()
	})

	for {
		event, stopped := s.runOnce(ctx)
		if stopped {
			s.logger.Info().Msg("session stopped")
			s.transition(func(sn *Session) { sn.State = StateStopped })
			return
		}

		s.logger.Warn().
			Str("kind", string(event.Kind)).
			Str("source", string(event.Source)).
			Str("diagnostics", event.Message).
			Msg("pipeline degraded")
		s.transition(func(sn *Session) {
			sn.State = StateDegraded
			sn.LastErrorKind = event.Kind
			sn.LastError = event.Message
		})

		decision := s.opts.Policy.Decide(event.Kind, s.Snapshot().RestartCount, s.networkRetries)
		if !decision.Retry {
			s.logger.Error().Str("kind", string(event.Kind)).Msg("giving up on session")
			s.transition(func(sn *Session) { sn.State = StateFailed })
			return
		}

		if event.Kind == KindNetwork {
			s.networkRetries++
		}
		s.transition(func(sn *Session) {
			sn.RestartCount++
			sn.State = StateRestarting
		})
		s.logger.Info().
			Dur("delay", decision.Delay).
			Int("restart_count", s.Snapshot().RestartCount).
			Msg("restart authorized")

		select {
		case <-s.stopCh:
			s.transition(func(sn *Session) { sn.State = StateStopped })
			return
		case <-ctx.Done():
			s.transition(func(sn *Session) { sn.State = StateStopped })
			return
		case <-time.After(decision.Delay):
		}

		s.transition(func(sn *Session) { sn.State = StateStarting })
	}
}

// runOnce executes one pipeline incarnation. It returns the classified
// failure, or stopped=true when termination was requested externally.
func (s *Supervisor) runOnce(ctx context.Context) (event *ErrorEvent, stopped bool) {
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return newEvent(ClassifyError(err), SourceConsumer, err.Error()), false
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the pipe bounds in-flight data: a slow consumer blocks the producer
	// instead of buffering unboundedly
	pipeReader, pipeWriter := io.Pipe()
	defer pipeReader.Close()

	proc, err := s.opts.Consumer(runCtx, pipeReader, s.opts.OutputDir, s.logger)
	if err != nil {
		return newEvent(ClassifyError(err), SourceConsumer, err.Error()), false
	}
	if err := proc.Start(); err != nil {
		return newEvent(ClassifyError(err), SourceConsumer, err.Error()), false
	}

	producerDone := make(chan error, 1)
	go func() {
		err := s.opts.Producer(runCtx, pipeWriter)
		pipeWriter.CloseWithError(err)
		producerDone <- err
	}()

	playlistPath := path.Join(s.opts.OutputDir, PlaylistName)
	readyGrace := time.NewTimer(s.opts.ReadyGrace)
	defer readyGrace.Stop()
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	running := false
	setRunning := func() {
		if !running {
			running = true
			s.logger.Info().Msg("pipeline running")
			s.transition(func(sn *Session) { sn.State = StateRunning })
		}
	}

	for {
		select {
		case <-s.stopCh:
			cancel()
			s.terminate(proc)
			return nil, true

		case <-ctx.Done():
			s.terminate(proc)
			return nil, true

		case <-proc.Done():
			cancel()
			diag := proc.Diagnostics()
			kind := Classify(diag, proc.ExitCode())
			return newEvent(kind, SourceConsumer, diag), false

		case err := <-producerDone:
			if err != nil && runCtx.Err() == nil {
				s.terminate(proc)
				return newEvent(ClassifyError(err), SourceProducer, err.Error()), false
			}

			// clean end of the producer stream: let the consumer drain
			// its input, then judge by its exit
			select {
			case <-proc.Done():
			case <-time.After(s.opts.TerminateGrace):
				s.terminate(proc)
			case <-s.stopCh:
				s.terminate(proc)
				return nil, true
			}
			diag := proc.Diagnostics()
			return newEvent(Classify(diag, proc.ExitCode()), SourceConsumer, diag), false

		case <-poll.C:
			// readiness probe, never blocks other sessions
			if _, err := os.Stat(playlistPath); err == nil {
				setRunning()
			}

		case <-readyGrace.C:
			setRunning()
		}
	}
}

// terminate asks the process to exit, waits out the grace period and then
// force-kills. Bytes still buffered in the pipe may be discarded.
func (s *Supervisor) terminate(proc Process) {
	if err := proc.Terminate(); err != nil {
		s.logger.Debug().Err(err).Msg("terminate signal failed")
	}

	select {
	case <-proc.Done():
		return
	case <-time.After(s.opts.TerminateGrace):
	}

	if err := proc.Kill(); err != nil {
		s.logger.Warn().Err(err).Msg("kill failed")
	}

	select {
	case <-proc.Done():
	case <-time.After(s.opts.TerminateGrace):
		s.logger.Error().Msg("process did not exit after kill")
	}
}

// transition applies fn to the session under the lock and publishes the
// updated snapshot.
func (s *Supervisor) transition(fn func(*Session)) {
	s.mu.Lock()
	fn(&s.session)
	snapshot := s.session
	s.mu.Unlock()

	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(snapshot)
	}
}
