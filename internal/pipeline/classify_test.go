package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/G1deonChan/mpdstreaming/internal/clearkey"
	"github.com/G1deonChan/mpdstreaming/internal/mpd"
	"github.com/G1deonChan/mpdstreaming/internal/producer"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		diagnostics string
		exitCode    int
		want        Kind
	}{
		{"http 403", "Server returned 403 Forbidden (access denied)", 1, KindAuth},
		{"http 404", "404 Not Found", 1, KindAuth},
		{"unauthorized", "HTTP error 401 Unauthorized", 1, KindAuth},
		{"connection reset", "Connection reset by peer", 152, KindNetwork},
		{"timeout", "Connection timed out after 10000 ms", 1, KindNetwork},
		{"dns", "Temporary failure in name resolution", 1, KindNetwork},
		{"tls", "SSL handshake failed", 1, KindNetwork},
		{"bad stream", "pipe:0: Invalid data found when processing input", 1, KindFormat},
		{"codec", "could not find codec parameters for stream 0", 1, KindFormat},
		{"decrypt", "unable to decrypt segment 12", 1, KindDecryption},
		{"unknown", "some unknown error", 999, KindProcessCrash},
		{"empty", "", 137, KindProcessCrash},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.diagnostics, tc.exitCode))
		})
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"upstream denied", fmt.Errorf("fetch: %w", producer.ErrUpstreamDenied), KindAuth},
		{"fetch", fmt.Errorf("segment: %w", producer.ErrFetch), KindNetwork},
		{"key missing", fmt.Errorf("track v1: %w", clearkey.ErrKeyNotFound), KindDecryption},
		{"decrypt", clearkey.ErrDecrypt, KindDecryption},
		{"manifest", fmt.Errorf("refresh: %w", mpd.ErrManifest), KindFormat},
		{"untyped network", errors.New("read tcp: connection refused"), KindNetwork},
		{"untyped", errors.New("it broke"), KindProcessCrash},
		{"nil", nil, KindProcessCrash},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}
