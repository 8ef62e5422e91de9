package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/G1deonChan/mpdstreaming/internal/clearkey"
	"github.com/G1deonChan/mpdstreaming/internal/mpd"
)

var (
	// ErrUpstreamDenied marks 403/404 class upstream refusals, which are
	// never resolved by retrying.
	ErrUpstreamDenied = errors.New("upstream denied")
	// ErrFetch marks network-level fetch failures after local retries.
	ErrFetch = errors.New("fetch failed")
)

type Config struct {
	ManifestURL     string
	Keys            clearkey.Keyring
	RefreshInterval time.Duration
	ManifestTimeout time.Duration
	FetchTimeout    time.Duration
	FetchRetries    int
	Client          *http.Client
}

func (c *Config) withDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 4 * time.Second
	}
	if c.ManifestTimeout == 0 {
		c.ManifestTimeout = 10 * time.Second
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.FetchRetries == 0 {
		c.FetchRetries = 2
	}
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
}

// Producer resolves a live MPD timeline, fetches and decrypts newly available
// segments and writes them to a single output sink in ascending sequence
// order per track. Writes into the sink are serialized, the sink is expected
// to apply backpressure.
type Producer struct {
	logger zerolog.Logger
	config Config

	writeMu sync.Mutex

	cursorsMu sync.Mutex
	cursors   map[string]uint64 // track id -> last emitted sequence
	initDone  map[string]bool
}

func New(config Config) *Producer {
	config.withDefaults()

	return &Producer{
		logger:   log.With().Str("module", "producer").Str("manifest", config.ManifestURL).Logger(),
		config:   config,
		cursors:  map[string]uint64{},
		initDone: map[string]bool{},
	}
}

// Run drives the producer until the context is cancelled, the manifest is
// static and fully emitted, or a failure escalates. The returned error is nil
// only for the clean end of a static timeline.
func (p *Producer) Run(ctx context.Context, w io.Writer) error {
	for {
		manifest, err := p.fetchManifest(ctx)
		if err != nil {
			return err
		}

		emitted, err := p.emitNew(ctx, manifest, w)
		if err != nil {
			return err
		}

		if !manifest.Live {
			p.logger.Info().Msg("static timeline fully emitted")
			return nil
		}

		refresh := p.config.RefreshInterval
		if manifest.UpdatePeriod > 0 && manifest.UpdatePeriod < refresh {
			refresh = manifest.UpdatePeriod
		}
		// when the timeline advanced we are likely behind the live edge,
		// refresh immediately instead of sleeping a full interval
		if emitted > 0 {
			refresh = refresh / 2
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(refresh):
		}
	}
}

// emitNew diffs the refreshed manifest against the per-track cursors and
// emits every newly available segment. Tracks are processed concurrently,
// ordering is enforced at the write point only.
func (p *Producer) emitNew(ctx context.Context, manifest *mpd.Manifest, w io.Writer) (int, error) {
	var (
		emittedMu sync.Mutex
		emitted   int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, track := range manifest.Tracks {
		track := track
		g.Go(func() error {
			n, err := p.emitTrack(gctx, track, w)
			emittedMu.Lock()
			emitted += n
			emittedMu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return emitted, err
	}
	return emitted, nil
}

func (p *Producer) emitTrack(ctx context.Context, track mpd.Track, w io.Writer) (int, error) {
	p.cursorsMu.Lock()
	cursor, seen := p.cursors[track.ID]
	needInit := !p.initDone[track.ID]
	p.cursorsMu.Unlock()

	if needInit && track.Init != nil {
		data, err := p.fetchSegment(ctx, track.Init.URL)
		if err != nil {
			return 0, err
		}
		if err := p.write(ctx, w, data); err != nil {
			return 0, err
		}
	}
	if needInit {
		p.cursorsMu.Lock()
		p.initDone[track.ID] = true
		p.cursorsMu.Unlock()
	}

	fresh := track.SegmentsAfter(cursor)
	if seen && len(fresh) > 0 && fresh[0].Sequence > cursor+1 {
		// gaps are logged but never stall the stream
		p.logger.Warn().
			Str("track", track.ID).
			Uint64("have", cursor).
			Uint64("next", fresh[0].Sequence).
			Msg("sequence gap in live timeline")
	}

	emitted := 0
	for _, seg := range fresh {
		data, err := p.fetchSegment(ctx, seg.URL)
		if err != nil {
			return emitted, err
		}

		if seg.Encrypted {
			if track.Protection == nil {
				return emitted, fmt.Errorf("%w: encrypted segment on unprotected track %s", clearkey.ErrDecrypt, track.ID)
			}

			iv := seg.IV
			if iv == nil {
				iv = clearkey.SequenceIV(seg.Sequence)
			}

			if data, err = clearkey.DecryptWith(p.config.Keys, track.Protection.KID, data, iv); err != nil {
				return emitted, err
			}
		}

		if err := p.write(ctx, w, data); err != nil {
			return emitted, err
		}

		p.cursorsMu.Lock()
		p.cursors[track.ID] = seg.Sequence
		p.cursorsMu.Unlock()

		p.logger.Debug().
			Str("track", track.ID).
			Uint64("sequence", seg.Sequence).
			Int("bytes", len(data)).
			Msg("segment emitted")
		emitted++
	}

	return emitted, nil
}

// write serializes all sink writes so the interleaving the consumer sees is
// whole segments, never mixed byte ranges of two tracks.
func (p *Producer) write(ctx context.Context, w io.Writer, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_, err := w.Write(data)
	return err
}

func (p *Producer) fetchManifest(ctx context.Context) (*mpd.Manifest, error) {
	data, err := p.fetch(ctx, p.config.ManifestURL, p.config.ManifestTimeout)
	if err != nil {
		return nil, err
	}

	return mpd.Parse(data, p.config.ManifestURL)
}

func (p *Producer) fetchSegment(ctx context.Context, url string) ([]byte, error) {
	return p.fetch(ctx, url, p.config.FetchTimeout)
}

// fetch retrieves url with a bounded number of retries. Upstream 403/404
// responses are escalated immediately, they do not get better with retries.
func (p *Producer) fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= p.config.FetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		data, err := p.fetchOnce(ctx, url, timeout)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrUpstreamDenied) || errors.Is(err, context.Canceled) {
			return nil, err
		}

		p.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt+1).Msg("fetch attempt failed")
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, lastErr)
}

func (p *Producer) fetchOnce(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	res, err := p.config.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		return io.ReadAll(res.Body)
	case res.StatusCode == http.StatusForbidden,
		res.StatusCode == http.StatusUnauthorized,
		res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s returned %d", ErrUpstreamDenied, url, res.StatusCode)
	default:
		return nil, fmt.Errorf("unexpected status %d for %s", res.StatusCode, url)
	}
}
