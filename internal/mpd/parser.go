package mpd

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/G1deonChan/mpdstreaming/internal/clearkey"
)

var ErrManifest = errors.New("invalid manifest")

const cencSchemeID = "urn:mpeg:dash:mp4protection:2011"

type mpdXML struct {
	XMLName             xml.Name    `xml:"MPD"`
	Type                string      `xml:"type,attr"`
	MinimumUpdatePeriod string      `xml:"minimumUpdatePeriod,attr"`
	BaseURL             string      `xml:"BaseURL"`
	Periods             []periodXML `xml:"Period"`
}

type periodXML struct {
	BaseURL        string             `xml:"BaseURL"`
	AdaptationSets []adaptationSetXML `xml:"AdaptationSet"`
}

type adaptationSetXML struct {
	ContentType     string                 `xml:"contentType,attr"`
	MimeType        string                 `xml:"mimeType,attr"`
	Protections     []contentProtectionXML `xml:"ContentProtection"`
	SegmentTemplate *segmentTemplateXML    `xml:"SegmentTemplate"`
	Representations []representationXML    `xml:"Representation"`
}

type representationXML struct {
	ID              string                 `xml:"id,attr"`
	Bandwidth       int                    `xml:"bandwidth,attr"`
	MimeType        string                 `xml:"mimeType,attr"`
	Protections     []contentProtectionXML `xml:"ContentProtection"`
	SegmentTemplate *segmentTemplateXML    `xml:"SegmentTemplate"`
	SegmentList     *segmentListXML        `xml:"SegmentList"`
	SegmentBase     *struct{}              `xml:"SegmentBase"`
}

type contentProtectionXML struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	DefaultKID  string `xml:"default_KID,attr"`
}

type segmentTemplateXML struct {
	Media          string              `xml:"media,attr"`
	Initialization string              `xml:"initialization,attr"`
	StartNumber    *uint64             `xml:"startNumber,attr"`
	Timescale      uint64              `xml:"timescale,attr"`
	Duration       uint64              `xml:"duration,attr"`
	Timeline       *segmentTimelineXML `xml:"SegmentTimeline"`
}

type segmentTimelineXML struct {
	S []timelineEntryXML `xml:"S"`
}

type timelineEntryXML struct {
	T *uint64 `xml:"t,attr"`
	D uint64  `xml:"d,attr"`
	R int64   `xml:"r,attr"`
}

type segmentListXML struct {
	Duration       uint64 `xml:"duration,attr"`
	Timescale      uint64 `xml:"timescale,attr"`
	Initialization *struct {
		SourceURL string `xml:"sourceURL,attr"`
	} `xml:"Initialization"`
	SegmentURLs []struct {
		Media string `xml:"media,attr"`
	} `xml:"SegmentURL"`
}

// Parse parses an MPD document. Parsing is idempotent: the same bytes always
// yield a structurally equal Manifest.
func Parse(data []byte, manifestURL string) (*Manifest, error) {
	var doc mpdXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	if len(doc.Periods) == 0 {
		return nil, fmt.Errorf("%w: no periods", ErrManifest)
	}

	base, err := resolveBase(manifestURL, doc.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	manifest := &Manifest{
		Live: doc.Type == "dynamic",
	}
	if doc.MinimumUpdatePeriod != "" {
		if manifest.UpdatePeriod, err = parseISODuration(doc.MinimumUpdatePeriod); err != nil {
			return nil, fmt.Errorf("%w: minimumUpdatePeriod: %v", ErrManifest, err)
		}
	}

	// the first period carries the live edge, multi-period content is
	// flattened into it
	for _, period := range doc.Periods {
		periodBase, err := resolveBase(base.String(), period.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifest, err)
		}

		for _, set := range period.AdaptationSets {
			setType, setOK := trackTypeOf(set.ContentType, set.MimeType)
			for _, rep := range set.Representations {
				// the set-level type wins, each representation falls back to
				// its own mimeType
				trackType, ok := setType, setOK
				if !ok {
					trackType, ok = trackTypeOf("", rep.MimeType)
				}
				if !ok {
					continue
				}

				track, err := buildTrack(set, rep, trackType, periodBase)
				if err != nil {
					return nil, err
				}
				manifest.Tracks = append(manifest.Tracks, track)
			}
		}
	}

	if len(manifest.Tracks) == 0 {
		return nil, fmt.Errorf("%w: no usable tracks", ErrManifest)
	}

	return manifest, nil
}

func buildTrack(set adaptationSetXML, rep representationXML, trackType TrackType, base *url.URL) (Track, error) {
	track := Track{
		ID:        rep.ID,
		Type:      trackType,
		Bandwidth: rep.Bandwidth,
	}

	protection, err := findProtection(append(rep.Protections, set.Protections...))
	if err != nil {
		return Track{}, err
	}
	track.Protection = protection

	switch {
	case rep.SegmentTemplate != nil || set.SegmentTemplate != nil:
		template := rep.SegmentTemplate
		if template == nil {
			template = set.SegmentTemplate
		}
		if err := expandTemplate(&track, template, base); err != nil {
			return Track{}, err
		}
	case rep.SegmentList != nil:
		if err := expandList(&track, rep.SegmentList, base); err != nil {
			return Track{}, err
		}
	case rep.SegmentBase != nil:
		return Track{}, fmt.Errorf("%w: SegmentBase addressing is not supported", ErrManifest)
	default:
		return Track{}, fmt.Errorf("%w: representation %q has no segment addressing", ErrManifest, rep.ID)
	}

	return track, nil
}

func expandTemplate(track *Track, template *segmentTemplateXML, base *url.URL) error {
	if template.Media == "" {
		return fmt.Errorf("%w: segment template without media attribute", ErrManifest)
	}

	timescale := template.Timescale
	if timescale == 0 {
		timescale = 1
	}

	startNumber := uint64(1)
	if template.StartNumber != nil {
		startNumber = *template.StartNumber
	}

	encrypted := track.Protection != nil

	if template.Initialization != "" {
		initURL, err := resolveTemplate(base, template.Initialization, track, 0, 0)
		if err != nil {
			return err
		}
		// init segments carry container metadata and are not encrypted
		track.Init = &Segment{
			TrackID: track.ID,
			URL:     initURL,
		}
	}

	if template.Timeline == nil {
		return fmt.Errorf("%w: segment template without timeline", ErrManifest)
	}
	if len(template.Timeline.S) == 0 {
		return fmt.Errorf("%w: empty segment timeline", ErrManifest)
	}

	sequence := startNumber
	var presentationTime uint64
	for _, entry := range template.Timeline.S {
		if entry.D == 0 {
			return fmt.Errorf("%w: timeline entry without duration", ErrManifest)
		}
		if entry.T != nil {
			presentationTime = *entry.T
		}

		repeat := entry.R + 1
		if repeat < 1 {
			repeat = 1
		}

		for i := int64(0); i < repeat; i++ {
			segURL, err := resolveTemplate(base, template.Media, track, sequence, presentationTime)
			if err != nil {
				return err
			}

			track.Segments = append(track.Segments, Segment{
				TrackID:   track.ID,
				Sequence:  sequence,
				URL:       segURL,
				Duration:  time.Duration(entry.D) * time.Second / time.Duration(timescale),
				Encrypted: encrypted,
			})

			sequence++
			presentationTime += entry.D
		}
	}

	return nil
}

func expandList(track *Track, list *segmentListXML, base *url.URL) error {
	if len(list.SegmentURLs) == 0 {
		return fmt.Errorf("%w: segment list without segment urls", ErrManifest)
	}

	timescale := list.Timescale
	if timescale == 0 {
		timescale = 1
	}

	encrypted := track.Protection != nil

	if list.Initialization != nil && list.Initialization.SourceURL != "" {
		initURL, err := resolveRef(base, list.Initialization.SourceURL)
		if err != nil {
			return err
		}
		track.Init = &Segment{TrackID: track.ID, URL: initURL}
	}

	for i, entry := range list.SegmentURLs {
		segURL, err := resolveRef(base, entry.Media)
		if err != nil {
			return err
		}

		track.Segments = append(track.Segments, Segment{
			TrackID:   track.ID,
			Sequence:  uint64(i + 1),
			URL:       segURL,
			Duration:  time.Duration(list.Duration) * time.Second / time.Duration(timescale),
			Encrypted: encrypted,
		})
	}

	return nil
}

func findProtection(protections []contentProtectionXML) (*Protection, error) {
	for _, p := range protections {
		if !strings.EqualFold(p.SchemeIDURI, cencSchemeID) {
			continue
		}
		if p.DefaultKID == "" {
			return nil, fmt.Errorf("%w: content protection without default_KID", ErrManifest)
		}
		kid, err := clearkey.ParseKID(p.DefaultKID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifest, err)
		}
		return &Protection{SchemeID: p.SchemeIDURI, KID: kid}, nil
	}
	return nil, nil
}

func trackTypeOf(contentType, mimeType string) (TrackType, bool) {
	switch {
	case strings.Contains(contentType, "video"), strings.HasPrefix(mimeType, "video/"):
		return TrackVideo, true
	case strings.Contains(contentType, "audio"), strings.HasPrefix(mimeType, "audio/"):
		return TrackAudio, true
	}
	return "", false
}

var templateVarRegex = regexp.MustCompile(`\$(RepresentationID|Bandwidth|Number|Time)(%0\d+d)?\$`)

func resolveTemplate(base *url.URL, template string, track *Track, number, presentationTime uint64) (string, error) {
	expanded := templateVarRegex.ReplaceAllStringFunc(template, func(match string) string {
		groups := templateVarRegex.FindStringSubmatch(match)
		format := groups[2]
		if format == "" {
			format = "%d"
		}

		switch groups[1] {
		case "RepresentationID":
			return track.ID
		case "Bandwidth":
			return fmt.Sprintf(format, track.Bandwidth)
		case "Number":
			return fmt.Sprintf(format, number)
		case "Time":
			return fmt.Sprintf(format, presentationTime)
		}
		return match
	})

	return resolveRef(base, expanded)
}

func resolveRef(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: segment url: %v", ErrManifest, err)
	}
	return base.ResolveReference(u).String(), nil
}

func resolveBase(manifestURL, baseURL string) (*url.URL, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return nil, err
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		ref, err := url.Parse(baseURL)
		if err != nil {
			return nil, err
		}
		u = u.ResolveReference(ref)
	}
	return u, nil
}

var isoDurationRegex = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

func parseISODuration(s string) (time.Duration, error) {
	groups := isoDurationRegex.FindStringSubmatch(s)
	if groups == nil {
		return 0, fmt.Errorf("unsupported duration %q", s)
	}

	var d time.Duration
	if groups[1] != "" {
		hours, _ := strconv.Atoi(groups[1])
		d += time.Duration(hours) * time.Hour
	}
	if groups[2] != "" {
		minutes, _ := strconv.Atoi(groups[2])
		d += time.Duration(minutes) * time.Minute
	}
	if groups[3] != "" {
		seconds, _ := strconv.ParseFloat(groups[3], 64)
		d += time.Duration(seconds * float64(time.Second))
	}
	return d, nil
}
