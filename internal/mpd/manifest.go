package mpd

import (
	"time"
)

type TrackType string

const (
	TrackVideo TrackType = "video"
	TrackAudio TrackType = "audio"
)

// Manifest is the parsed, immutable representation of one MPD document.
// Refreshing a live manifest produces a new value, never mutates an old one.
type Manifest struct {
	Live         bool
	UpdatePeriod time.Duration
	Tracks       []Track
}

type Track struct {
	ID         string
	Type       TrackType
	Bandwidth  int
	Protection *Protection
	Init       *Segment
	Segments   []Segment
}

// Protection carries the cenc metadata of a protected track. A track without
// protection metadata is delivered in the clear.
type Protection struct {
	SchemeID string
	KID      [16]byte
}

// Segment is one fetchable unit of a track timeline.
type Segment struct {
	TrackID   string
	Sequence  uint64
	URL       string
	Duration  time.Duration
	Encrypted bool
	IV        []byte
}

// SegmentsAfter returns the segments of the track with a sequence number
// strictly greater than seq, in ascending order. Used by the producer to
// diff a refreshed timeline against the already emitted one.
func (t Track) SegmentsAfter(seq uint64) []Segment {
	for i, s := range t.Segments {
		if s.Sequence > seq {
			return t.Segments[i:]
		}
	}
	return nil
}

// TrackByID looks a track up by its representation id.
func (m *Manifest) TrackByID(id string) (Track, bool) {
	for _, t := range m.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return Track{}, false
}
