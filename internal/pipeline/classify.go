package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/G1deonChan/mpdstreaming/internal/clearkey"
	"github.com/G1deonChan/mpdstreaming/internal/mpd"
	"github.com/G1deonChan/mpdstreaming/internal/producer"
)

// Kind is the structured classification of a pipeline failure.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindNetwork      Kind = "network"
	KindFormat       Kind = "format"
	KindDecryption   Kind = "decryption"
	KindProcessCrash Kind = "process_crash"
)

// Source names the side of the pipeline an error originated from.
type Source string

const (
	SourceProducer Source = "producer"
	SourceConsumer Source = "consumer"
)

// ErrorEvent is one classified failure, recorded on the session and fed to
// the retry scheduler.
type ErrorEvent struct {
	Kind       Kind
	Message    string
	Source     Source
	OccurredAt time.Time
}

func newEvent(kind Kind, source Source, message string) *ErrorEvent {
	return &ErrorEvent{
		Kind:       kind,
		Message:    message,
		Source:     source,
		OccurredAt: time.Now(),
	}
}

// classification is keyword based on diagnostic text, ordered: the first
// matching rule wins
var classifyRules = []struct {
	kind     Kind
	patterns []string
}{
	{KindAuth, []string{
		"403", "forbidden",
		"401", "unauthorized",
		"404", "not found",
		"permission denied",
		"access denied",
	}},
	{KindDecryption, []string{
		"decrypt",
		"no matching key",
		"invalid key",
		"cenc",
	}},
	{KindNetwork, []string{
		"connection reset",
		"connection refused",
		"connection timed out",
		"timed out",
		"timeout",
		"no such host",
		"name resolution",
		"network is unreachable",
		"broken pipe",
		"tls handshake",
		"ssl",
		"end of file",
	}},
	{KindFormat, []string{
		"invalid data found",
		"could not find codec",
		"codec mismatch",
		"moov atom not found",
		"malformed",
		"invalid nal",
		"non-monotonic",
	}},
}

// Classify maps raw diagnostic text and an exit code to an error kind.
// Unmatched diagnostics default to KindProcessCrash.
func Classify(diagnostics string, exitCode int) Kind {
	diagnostics = strings.ToLower(diagnostics)

	for _, rule := range classifyRules {
		for _, pattern := range rule.patterns {
			if strings.Contains(diagnostics, pattern) {
				return rule.kind
			}
		}
	}

	return KindProcessCrash
}

// ClassifyError maps an in-process failure to an error kind, preferring the
// typed sentinels over keyword matching.
func ClassifyError(err error) Kind {
	switch {
	case err == nil:
		return KindProcessCrash
	case errors.Is(err, producer.ErrUpstreamDenied):
		return KindAuth
	case errors.Is(err, producer.ErrFetch),
		errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	case errors.Is(err, clearkey.ErrKeyNotFound),
		errors.Is(err, clearkey.ErrDecrypt):
		return KindDecryption
	case errors.Is(err, mpd.ErrManifest):
		return KindFormat
	}

	return Classify(err.Error(), -1)
}
