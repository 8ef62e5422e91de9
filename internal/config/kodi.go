package config

import (
	"fmt"
	"strings"
)

const (
	kodiPropPrefix  = "#KODIPROP:"
	kodiLicenseType = "inputstream.adaptive.license_type"
	kodiLicenseKey  = "inputstream.adaptive.license_key"
	kodiManifest    = "inputstream.adaptive.manifest_type"
)

// ParseKodiProps builds a stream from a Kodi-style property block: any number
// of #KODIPROP lines followed by the manifest URL, e.g.
//
//	#KODIPROP:inputstream.adaptive.license_type=org.w3.clearkey
//	#KODIPROP:inputstream.adaptive.license_key=<kid>:<key>
//	https://example.com/stream.mpd
//
// The returned stream has no ID yet, the caller assigns one.
func ParseKodiProps(text string) (Stream, error) {
	stream := Stream{Enabled: true}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, kodiPropPrefix) {
			if strings.HasPrefix(line, "#") {
				// other playlist directives carry no configuration
				continue
			}
			if stream.URL != "" {
				return Stream{}, &ConfigError{Field: "kodi_props", Reason: "more than one manifest url"}
			}
			stream.URL = line
			continue
		}

		prop, value, ok := strings.Cut(strings.TrimPrefix(line, kodiPropPrefix), "=")
		if !ok {
			return Stream{}, &ConfigError{Field: "kodi_props", Reason: fmt.Sprintf("malformed property line %q", line)}
		}

		switch prop {
		case kodiLicenseType:
			switch value {
			case "org.w3.clearkey", "clearkey":
				stream.LicenseType = LicenseClearKey
			default:
				return Stream{}, &ConfigError{Field: "license_type", Reason: fmt.Sprintf("unsupported license type %q", value)}
			}
		case kodiLicenseKey:
			stream.LicenseKey = value
		case kodiManifest:
			stream.ManifestType = value
		}
	}

	if stream.URL == "" {
		return Stream{}, &ConfigError{Field: "kodi_props", Reason: "no manifest url"}
	}

	stream.setDefaults()
	return stream, nil
}
