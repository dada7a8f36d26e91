package sfu

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	reg := DefaultRegistry()

	params, ok := reg.Lookup(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeH264)
	require.True(t, ok)
	assert.Equal(t, uint32(90000), params.ClockRate)
	assert.Equal(t, webrtc.PayloadType(96), params.PayloadType)

	params, ok = reg.Lookup(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus)
	require.True(t, ok)
	assert.Equal(t, uint32(48000), params.ClockRate)
	assert.Equal(t, uint16(2), params.Channels)
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	reg := DefaultRegistry()

	_, ok := reg.Lookup(webrtc.RTPCodecTypeVideo, "video/h264")
	assert.True(t, ok)
	_, ok = reg.Lookup(webrtc.RTPCodecTypeAudio, "AUDIO/OPUS")
	assert.True(t, ok)
}

func TestRegistryLookupMissesUnknownCodec(t *testing.T) {
	reg := DefaultRegistry()

	_, ok := reg.Lookup(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	assert.False(t, ok)
	// The kind is part of the key, not just the encoding name.
	_, ok = reg.Lookup(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeH264)
	assert.False(t, ok)
}

func TestRegistryBuilderRejectsDuplicate(t *testing.T) {
	b := NewRegistryBuilder()
	params := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}
	require.NoError(t, b.Register(webrtc.RTPCodecTypeAudio, params))
	err := b.Register(webrtc.RTPCodecTypeAudio, params)
	require.Error(t, err)
}

func TestRegistryMediaEngine(t *testing.T) {
	reg := DefaultRegistry()
	me, err := reg.MediaEngine()
	require.NoError(t, err)
	require.NotNil(t, me)
}

func TestCapabilityEqual(t *testing.T) {
	a := webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: "packetization-mode=1",
	}
	b := a
	assert.True(t, CapabilityEqual(a, b))

	b.SDPFmtpLine = "packetization-mode=0"
	assert.False(t, CapabilityEqual(a, b))

	b = a
	b.ClockRate = 48000
	assert.False(t, CapabilityEqual(a, b))

	b = a
	b.RTCPFeedback = []webrtc.RTCPFeedback{{Type: webrtc.TypeRTCPFBNACK}}
	assert.False(t, CapabilityEqual(a, b))

	// Mime type comparison is case insensitive, like the rest of SDP.
	b = a
	b.MimeType = "video/h264"
	assert.True(t, CapabilityEqual(a, b))
}
