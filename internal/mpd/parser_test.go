package mpd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifestURL = "https://cdn.example.com/live/stream.mpd"

const templateManifest = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" xmlns:cenc="urn:mpeg:cenc:2013"
     type="dynamic" minimumUpdatePeriod="PT4S">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011"
                         cenc:default_KID="9eb4050d-e44b-4802-932e-27d75083e266"/>
      <SegmentTemplate media="video/$RepresentationID$/seg-$Number$.m4s"
                       initialization="video/$RepresentationID$/init.mp4"
                       startNumber="1" timescale="90000">
        <SegmentTimeline>
          <S t="0" d="360000" r="3"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="v1" bandwidth="2400000"/>
    </AdaptationSet>
    <AdaptationSet contentType="audio" mimeType="audio/mp4">
      <SegmentTemplate media="audio/seg-$Number%05d$.m4s"
                       startNumber="10" timescale="48000">
        <SegmentTimeline>
          <S t="0" d="192000" r="1"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="a1" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseTemplateManifest(t *testing.T) {
	manifest, err := Parse([]byte(templateManifest), manifestURL)
	require.NoError(t, err)

	assert.True(t, manifest.Live)
	assert.Equal(t, 4*time.Second, manifest.UpdatePeriod)
	require.Len(t, manifest.Tracks, 2)

	video, ok := manifest.TrackByID("v1")
	require.True(t, ok)
	assert.Equal(t, TrackVideo, video.Type)
	assert.Equal(t, 2400000, video.Bandwidth)

	require.NotNil(t, video.Protection)
	assert.Equal(t, "urn:mpeg:dash:mp4protection:2011", video.Protection.SchemeID)
	assert.Equal(t, byte(0x9e), video.Protection.KID[0])
	assert.Equal(t, byte(0x66), video.Protection.KID[15])

	require.NotNil(t, video.Init)
	assert.Equal(t, "https://cdn.example.com/live/video/v1/init.mp4", video.Init.URL)

	require.Len(t, video.Segments, 4)
	for i, seg := range video.Segments {
		assert.Equal(t, uint64(i+1), seg.Sequence)
		assert.True(t, seg.Encrypted)
		assert.Equal(t, 4*time.Second, seg.Duration)
	}
	assert.Equal(t, "https://cdn.example.com/live/video/v1/seg-3.m4s", video.Segments[2].URL)

	audio, ok := manifest.TrackByID("a1")
	require.True(t, ok)
	assert.Equal(t, TrackAudio, audio.Type)
	assert.Nil(t, audio.Protection)
	assert.Nil(t, audio.Init)

	require.Len(t, audio.Segments, 2)
	assert.Equal(t, uint64(10), audio.Segments[0].Sequence)
	assert.False(t, audio.Segments[0].Encrypted)
	assert.Equal(t, "https://cdn.example.com/live/audio/seg-00010.m4s", audio.Segments[0].URL)
}

func TestParseIsIdempotent(t *testing.T) {
	first, err := Parse([]byte(templateManifest), manifestURL)
	require.NoError(t, err)

	second, err := Parse([]byte(templateManifest), manifestURL)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestParseSegmentList(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <Period>
    <AdaptationSet contentType="video">
      <Representation id="v1" bandwidth="1000000" mimeType="video/mp4">
        <SegmentList duration="6" timescale="1">
          <Initialization sourceURL="init.mp4"/>
          <SegmentURL media="chunk-1.m4s"/>
          <SegmentURL media="chunk-2.m4s"/>
          <SegmentURL media="chunk-3.m4s"/>
        </SegmentList>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

	manifest, err := Parse([]byte(doc), manifestURL)
	require.NoError(t, err)

	assert.False(t, manifest.Live)
	require.Len(t, manifest.Tracks, 1)

	track := manifest.Tracks[0]
	require.NotNil(t, track.Init)
	assert.Equal(t, "https://cdn.example.com/live/init.mp4", track.Init.URL)

	require.Len(t, track.Segments, 3)
	assert.Equal(t, uint64(1), track.Segments[0].Sequence)
	assert.Equal(t, 6*time.Second, track.Segments[1].Duration)
	assert.Equal(t, "https://cdn.example.com/live/chunk-3.m4s", track.Segments[2].URL)
	assert.False(t, track.Segments[0].Encrypted)
}

func TestParseUntypedAdaptationSet(t *testing.T) {
	// no contentType/mimeType on the set: each representation resolves its
	// own type from its mimeType, a video sibling must not taint an audio one
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <Period>
    <AdaptationSet>
      <Representation id="v1" bandwidth="1000000" mimeType="video/mp4">
        <SegmentList duration="6" timescale="1">
          <SegmentURL media="video-1.m4s"/>
        </SegmentList>
      </Representation>
      <Representation id="a1" bandwidth="128000" mimeType="audio/mp4">
        <SegmentList duration="6" timescale="1">
          <SegmentURL media="audio-1.m4s"/>
        </SegmentList>
      </Representation>
      <Representation id="t1" bandwidth="1000" mimeType="application/ttml+xml">
        <SegmentList duration="6" timescale="1">
          <SegmentURL media="subs-1.xml"/>
        </SegmentList>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

	manifest, err := Parse([]byte(doc), manifestURL)
	require.NoError(t, err)

	// the subtitle representation has no usable type and is skipped
	require.Len(t, manifest.Tracks, 2)

	video, ok := manifest.TrackByID("v1")
	require.True(t, ok)
	assert.Equal(t, TrackVideo, video.Type)

	audio, ok := manifest.TrackByID("a1")
	require.True(t, ok)
	assert.Equal(t, TrackAudio, audio.Type)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"malformed xml", `<MPD><Period>`},
		{"no periods", `<MPD type="static"></MPD>`},
		{
			"no timing",
			`<MPD type="static"><Period><AdaptationSet contentType="video">
			   <SegmentTemplate media="seg-$Number$.m4s" startNumber="1"/>
			   <Representation id="v1" bandwidth="1"/>
			 </AdaptationSet></Period></MPD>`,
		},
		{
			"unsupported addressing",
			`<MPD type="static"><Period><AdaptationSet contentType="video">
			   <Representation id="v1" bandwidth="1" mimeType="video/mp4">
			     <SegmentBase indexRange="0-100"/>
			   </Representation>
			 </AdaptationSet></Period></MPD>`,
		},
		{
			"no addressing at all",
			`<MPD type="static"><Period><AdaptationSet contentType="video">
			   <Representation id="v1" bandwidth="1" mimeType="video/mp4"/>
			 </AdaptationSet></Period></MPD>`,
		},
		{
			"protection without kid",
			`<MPD type="static"><Period><AdaptationSet contentType="video">
			   <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011"/>
			   <SegmentTemplate media="seg-$Number$.m4s"><SegmentTimeline><S d="6"/></SegmentTimeline></SegmentTemplate>
			   <Representation id="v1" bandwidth="1"/>
			 </AdaptationSet></Period></MPD>`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc), manifestURL)
			assert.ErrorIs(t, err, ErrManifest)
		})
	}
}

func TestSegmentsAfter(t *testing.T) {
	track := Track{Segments: []Segment{
		{Sequence: 1}, {Sequence: 2}, {Sequence: 3}, {Sequence: 4},
	}}

	assert.Len(t, track.SegmentsAfter(0), 4)
	assert.Len(t, track.SegmentsAfter(2), 2)
	assert.Equal(t, uint64(3), track.SegmentsAfter(2)[0].Sequence)
	assert.Nil(t, track.SegmentsAfter(4))
	assert.Nil(t, track.SegmentsAfter(10))
}
