package registry

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G1deonChan/mpdstreaming/internal/clearkey"
	"github.com/G1deonChan/mpdstreaming/internal/config"
	"github.com/G1deonChan/mpdstreaming/internal/pipeline"
)

type fakeProcess struct {
	exit     int
	diag     string
	lifetime time.Duration

	once sync.Once
	done chan struct{}
}

func (p *fakeProcess) Start() error {
	if p.lifetime >= 0 {
		go func() {
			time.Sleep(p.lifetime)
			p.once.Do(func() { close(p.done) })
		}()
	}
	return nil
}

func (p *fakeProcess) Terminate() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakeProcess) Kill() error           { return p.Terminate() }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitCode() int         { return p.exit }
func (p *fakeProcess) Diagnostics() string   { return p.diag }

// fakeConsumers hands out a per-stream process so tests can fail one stream
// while keeping another healthy.
type fakeConsumers struct {
	byDir map[string]func() *fakeProcess
}

func (f *fakeConsumers) factory(ctx context.Context, stdin io.Reader, outputDir string, logger zerolog.Logger) (pipeline.Process, error) {
	for suffix, build := range f.byDir {
		if strings.HasSuffix(outputDir, suffix) {
			return build(), nil
		}
	}
	return aliveProcess(), nil
}

func aliveProcess() *fakeProcess {
	return &fakeProcess{lifetime: -1, done: make(chan struct{})}
}

func crashingProcess(diag string, exit int) func() *fakeProcess {
	return func() *fakeProcess {
		return &fakeProcess{diag: diag, exit: exit, lifetime: 5 * time.Millisecond, done: make(chan struct{})}
	}
}

func idleProducer(stream config.Stream, keys clearkey.Keyring) pipeline.ProducerFunc {
	return func(ctx context.Context, w io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	}
}

func testRegistry(t *testing.T, consumers *fakeConsumers) *Registry {
	t.Helper()

	if consumers == nil {
		consumers = &fakeConsumers{}
	}

	r := New(Options{
		OutputRoot: t.TempDir(),
		Consumer:   consumers.factory,
		Policy: pipeline.RetryPolicy{
			RestartCeiling:  3,
			NetworkRetryCap: 2,
			BackoffBase:     time.Millisecond,
			BackoffMax:      4 * time.Millisecond,
			RetryDelay:      time.Millisecond,
		},
		Supervision: config.Supervision{
			ReadyGrace:     20 * time.Millisecond,
			TerminateGrace: 50 * time.Millisecond,
		},
		NewProducer: idleProducer,
	})

	// sessions left running by a test must not outlive the temp output root
	t.Cleanup(r.Shutdown)

	return r
}

func testStream(id string) config.Stream {
	return config.Stream{
		ID:          id,
		Name:        "Channel " + id,
		URL:         "https://example.com/" + id + "/stream.mpd",
		LicenseType: config.LicenseNone,
		Enabled:     true,
	}
}

func TestRegistryStreamCRUD(t *testing.T) {
	r := testRegistry(t, nil)

	require.NoError(t, r.AddStream(testStream("a")))
	require.NoError(t, r.AddStream(testStream("b")))

	streams := r.Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, "a", streams[0].ID)
	assert.Equal(t, "b", streams[1].ID)

	updated := testStream("a")
	updated.Name = "Renamed"
	require.NoError(t, r.UpdateStream(updated))

	got, ok := r.Stream("a")
	require.True(t, ok)
	assert.Equal(t, "Renamed", got.Name)

	assert.ErrorIs(t, r.UpdateStream(testStream("missing")), ErrStreamNotFound)

	require.NoError(t, r.RemoveStream("a"))
	assert.ErrorIs(t, r.RemoveStream("a"), ErrStreamNotFound)
	assert.Len(t, r.Streams(), 1)
}

func TestRegistryRejectsInvalidStream(t *testing.T) {
	r := testRegistry(t, nil)

	invalid := testStream("a")
	invalid.LicenseType = config.LicenseClearKey
	invalid.LicenseKey = "garbage"

	err := r.AddStream(invalid)
	var confErr *config.ConfigError
	require.ErrorAs(t, err, &confErr)
	assert.Empty(t, r.Streams())
}

func TestRegistryStartStop(t *testing.T) {
	r := testRegistry(t, nil)
	require.NoError(t, r.AddStream(testStream("a")))

	session, err := r.Start("a")
	require.NoError(t, err)
	assert.Equal(t, "a", session.StreamID)
	assert.Equal(t, "/stream/a/playlist.m3u8", session.OutputURL)

	require.Eventually(t, func() bool {
		s, ok := r.Status("a")
		return ok && s.State == pipeline.StateRunning
	}, time.Second, 5*time.Millisecond)

	// starting a live session is a no-op
	again, err := r.Start("a")
	require.NoError(t, err)
	assert.Equal(t, "a", again.StreamID)
	assert.Len(t, r.Sessions(), 1)

	r.Stop("a")
	_, ok := r.Status("a")
	assert.False(t, ok, "stopped sessions are removed from the registry")

	// the stream configuration survives the session
	_, ok = r.Stream("a")
	assert.True(t, ok)
}

func TestRegistryStartErrors(t *testing.T) {
	r := testRegistry(t, nil)

	_, err := r.Start("missing")
	assert.ErrorIs(t, err, ErrStreamNotFound)

	disabled := testStream("off")
	disabled.Enabled = false
	require.NoError(t, r.AddStream(disabled))

	_, err = r.Start("off")
	assert.ErrorIs(t, err, ErrStreamDisabled)
}

func TestRegistryFailedSessionRemainsQueryable(t *testing.T) {
	consumers := &fakeConsumers{byDir: map[string]func() *fakeProcess{
		"/bad": crashingProcess("Server returned 403 Forbidden (access denied)", 1),
	}}
	r := testRegistry(t, consumers)
	require.NoError(t, r.AddStream(testStream("bad")))

	_, err := r.Start("bad")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, ok := r.Status("bad")
		return ok && s.State == pipeline.StateFailed
	}, time.Second, 5*time.Millisecond)

	s, ok := r.Status("bad")
	require.True(t, ok)
	assert.Equal(t, pipeline.KindAuth, s.LastErrorKind)

	// a fresh start replaces the terminal session with counters reset
	fresh, err := r.Start("bad")
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.RestartCount)
}

func TestRegistrySessionsAreIndependent(t *testing.T) {
	consumers := &fakeConsumers{byDir: map[string]func() *fakeProcess{
		"/bad": crashingProcess("Connection reset by peer", 152),
	}}
	r := testRegistry(t, consumers)
	require.NoError(t, r.AddStream(testStream("good")))
	require.NoError(t, r.AddStream(testStream("bad")))

	r.StartEnabled()

	require.Eventually(t, func() bool {
		s, ok := r.Status("bad")
		return ok && s.State == pipeline.StateFailed
	}, time.Second, 5*time.Millisecond)

	good, ok := r.Status("good")
	require.True(t, ok)
	assert.Contains(t, []pipeline.State{pipeline.StateStarting, pipeline.StateRunning}, good.State,
		"one failing stream must not disturb the others")

	require.Eventually(t, func() bool {
		s, ok := r.Status("good")
		return ok && s.State == pipeline.StateRunning
	}, time.Second, 5*time.Millisecond)

	r.Shutdown()
	assert.Empty(t, r.Sessions())
}

func TestRegistryRestart(t *testing.T) {
	r := testRegistry(t, nil)
	require.NoError(t, r.AddStream(testStream("a")))

	_, err := r.Start("a")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, ok := r.Status("a")
		return ok && s.State == pipeline.StateRunning
	}, time.Second, 5*time.Millisecond)

	session, err := r.Restart("a")
	require.NoError(t, err)
	assert.Equal(t, 0, session.RestartCount, "restart starts over with a clean counter")

	r.Shutdown()
}
