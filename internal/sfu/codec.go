package sfu

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Registry is the process-wide table of supported codec capabilities.
// It is built once at startup and read-only afterwards; every transport-level
// capability in the media core must come out of Lookup, never be constructed
// ad hoc. Two capabilities that differ only in fmtp ordering are rejected by
// transport negotiation, so object-exactness matters.
type Registry struct {
	codecs map[codecKey]webrtc.RTPCodecParameters
}

type codecKey struct {
	kind webrtc.RTPCodecType
	mime string
}

// RegistryBuilder accumulates codec registrations before the registry is
// frozen. Register rejects a second capability for the same (kind, encoding).
type RegistryBuilder struct {
	codecs map[codecKey]webrtc.RTPCodecParameters
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{codecs: make(map[codecKey]webrtc.RTPCodecParameters)}
}

func (b *RegistryBuilder) Register(kind webrtc.RTPCodecType, params webrtc.RTPCodecParameters) error {
	key := codecKey{kind: kind, mime: strings.ToLower(params.MimeType)}
	if _, ok := b.codecs[key]; ok {
		return fmt.Errorf("codec %s already registered for %s", params.MimeType, kind)
	}
	b.codecs[key] = params
	return nil
}

func (b *RegistryBuilder) Build() *Registry {
	codecs := make(map[codecKey]webrtc.RTPCodecParameters, len(b.codecs))
	for k, v := range b.codecs {
		codecs[k] = v
	}
	return &Registry{codecs: codecs}
}

// DefaultRegistry returns the platform's negotiated codec set: H.264
// constrained baseline for video (hardware accelerated on clients) and Opus
// for audio.
func DefaultRegistry() *Registry {
	b := NewRegistryBuilder()
	_ = b.Register(webrtc.RTPCodecTypeVideo, webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			Channels:    0,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
		PayloadType: 96,
	})
	_ = b.Register(webrtc.RTPCodecTypeAudio, webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	})
	return b.Build()
}

// Lookup returns the canonical capability for a (kind, encoding) pair.
func (r *Registry) Lookup(kind webrtc.RTPCodecType, mimeType string) (webrtc.RTPCodecParameters, bool) {
	params, ok := r.codecs[codecKey{kind: kind, mime: strings.ToLower(mimeType)}]
	return params, ok
}

// MediaEngine derives a pion MediaEngine from the registry so the transport
// engine and every subscriber track negotiate the exact same capabilities.
func (r *Registry) MediaEngine() (*webrtc.MediaEngine, error) {
	me := &webrtc.MediaEngine{}
	for key, params := range r.codecs {
		if err := me.RegisterCodec(params, key.kind); err != nil {
			return nil, fmt.Errorf("register %s: %w", params.MimeType, err)
		}
	}
	return me, nil
}

// CapabilityEqual reports field-by-field equality of two capabilities.
// Semantic equivalence is not enough for negotiation; the fmtp line must
// match byte for byte.
func CapabilityEqual(a, b webrtc.RTPCodecCapability) bool {
	if !strings.EqualFold(a.MimeType, b.MimeType) {
		return false
	}
	if a.ClockRate != b.ClockRate || a.Channels != b.Channels || a.SDPFmtpLine != b.SDPFmtpLine {
		return false
	}
	if len(a.RTCPFeedback) != len(b.RTCPFeedback) {
		return false
	}
	for i := range a.RTCPFeedback {
		if a.RTCPFeedback[i] != b.RTCPFeedback[i] {
			return false
		}
	}
	return true
}
