package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/G1deonChan/mpdstreaming/internal/clearkey"
)

const (
	LicenseNone     = "none"
	LicenseClearKey = "clearkey"
)

// ConfigError reports an invalid stream configuration. It is returned
// synchronously on stream creation, never through the session lifecycle.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid stream config: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid stream config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Stream describes one upstream MPEG-DASH source and how to decrypt it.
type Stream struct {
	ID           string `mapstructure:"id" json:"id"`
	Name         string `mapstructure:"name" json:"name"`
	URL          string `mapstructure:"url" json:"url"`
	ManifestType string `mapstructure:"manifest_type" json:"manifest_type"`
	LicenseType  string `mapstructure:"license_type" json:"license_type"`
	LicenseKey   string `mapstructure:"license_key" json:"license_key,omitempty"`
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
}

func (s *Stream) setDefaults() {
	if s.ManifestType == "" {
		s.ManifestType = "mpd"
	}
	if s.LicenseType == "" {
		s.LicenseType = LicenseNone
	}
}

// Validate checks the stream configuration without touching the network.
func (s Stream) Validate() error {
	if s.ID == "" {
		return &ConfigError{Field: "id", Reason: "must not be empty"}
	}

	u, err := url.Parse(s.URL)
	if err != nil {
		return &ConfigError{Field: "url", Reason: "not a valid url", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: "url", Reason: "scheme must be http or https"}
	}

	switch s.LicenseType {
	case "", LicenseNone:
		// clear stream, nothing to check
	case LicenseClearKey:
		if _, err := s.Keyring(); err != nil {
			return &ConfigError{Field: "license_key", Reason: "not a valid clearkey license", Err: err}
		}
	default:
		return &ConfigError{Field: "license_type", Reason: fmt.Sprintf("unsupported license type %q", s.LicenseType)}
	}

	return nil
}

// Keyring parses the license into the key lookup table used for decryption.
// Multiple key pairs may be given separated by commas. A clear stream yields
// an empty keyring.
func (s Stream) Keyring() (clearkey.Keyring, error) {
	if s.LicenseType != LicenseClearKey {
		return clearkey.Keyring{}, nil
	}

	var pairs []clearkey.KeyPair
	for _, raw := range strings.Split(s.LicenseKey, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		pair, err := clearkey.ParseLicense(raw)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: license key is empty", clearkey.ErrInvalidLicense)
	}
	return clearkey.NewKeyring(pairs...), nil
}
