package config

import (
	"time"

	"github.com/G1deonChan/mpdstreaming/internal/pipeline"
)

// Supervision tunes the pipeline restart behavior.
type Supervision struct {
	RestartCeiling  int           `mapstructure:"restart-ceiling"`
	NetworkRetryCap int           `mapstructure:"network-retry-cap"`
	BackoffBase     time.Duration `mapstructure:"backoff-base"`
	BackoffMax      time.Duration `mapstructure:"backoff-max"`
	RetryDelay      time.Duration `mapstructure:"retry-delay"`
	ReadyGrace      time.Duration `mapstructure:"ready-grace"`
	TerminateGrace  time.Duration `mapstructure:"terminate-grace"`
}

func (s *Supervision) setDefaults() {
	def := pipeline.DefaultRetryPolicy()
	if s.RestartCeiling == 0 {
		s.RestartCeiling = def.RestartCeiling
	}
	if s.NetworkRetryCap == 0 {
		s.NetworkRetryCap = def.NetworkRetryCap
	}
	if s.BackoffBase == 0 {
		s.BackoffBase = def.BackoffBase
	}
	if s.BackoffMax == 0 {
		s.BackoffMax = def.BackoffMax
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = def.RetryDelay
	}
	if s.ReadyGrace == 0 {
		s.ReadyGrace = 10 * time.Second
	}
	if s.TerminateGrace == 0 {
		s.TerminateGrace = 5 * time.Second
	}
}

// Policy converts the tuning section into the pipeline retry policy.
func (s Supervision) Policy() pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		RestartCeiling:  s.RestartCeiling,
		NetworkRetryCap: s.NetworkRetryCap,
		BackoffBase:     s.BackoffBase,
		BackoffMax:      s.BackoffMax,
		RetryDelay:      s.RetryDelay,
	}
}

// Producer tunes manifest refresh and segment fetching.
type Producer struct {
	RefreshInterval time.Duration `mapstructure:"refresh-interval"`
	ManifestTimeout time.Duration `mapstructure:"manifest-timeout"`
	FetchTimeout    time.Duration `mapstructure:"fetch-timeout"`
	FetchRetries    int           `mapstructure:"fetch-retries"`
}

func (p *Producer) setDefaults() {
	if p.RefreshInterval == 0 {
		p.RefreshInterval = 4 * time.Second
	}
	if p.ManifestTimeout == 0 {
		p.ManifestTimeout = 10 * time.Second
	}
	if p.FetchTimeout == 0 {
		p.FetchTimeout = 15 * time.Second
	}
	if p.FetchRetries == 0 {
		p.FetchRetries = 2
	}
}
