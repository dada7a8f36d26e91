package sfu

import (
	"strings"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// TrackSource tells subscribers what a published track carries.
type TrackSource int

const (
	SourceMicrophone TrackSource = iota
	SourceCamera
	SourceScreen
)

func (s TrackSource) String() string {
	switch s {
	case SourceMicrophone:
		return "microphone"
	case SourceCamera:
		return "camera"
	case SourceScreen:
		return "screen"
	}
	return "unknown"
}

// TrackReceiver is the receive side of a published track.
// *webrtc.TrackRemote satisfies it.
type TrackReceiver interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	SetReadDeadline(t time.Time) error
	SSRC() webrtc.SSRC
}

// PublishedTrack is one inbound media track owned by a session, with its
// fan-out router. Created when the publisher's transport reports the track,
// destroyed when the publisher leaves or stops it.
type PublishedTrack struct {
	ID       string
	Owner    *Session
	Kind     webrtc.RTPCodecType
	MimeType string
	Source   TrackSource
	StreamID string

	router *TrackRouter
}

// Router exposes the forwarding component, mainly for tests and adapters.
func (t *PublishedTrack) Router() *TrackRouter { return t.router }

// sourceOf derives the track source from the client-assigned stream ID;
// clients publish screen shares under a stream ID containing "screen".
func sourceOf(kind webrtc.RTPCodecType, streamID string) TrackSource {
	if strings.Contains(streamID, "screen") {
		return SourceScreen
	}
	if kind == webrtc.RTPCodecTypeAudio {
		return SourceMicrophone
	}
	return SourceCamera
}

// subscriberStreamID is what subscribers see as the remote stream ID; it
// identifies the publisher and the track source.
func (t *PublishedTrack) subscriberStreamID() string {
	return "stream-" + string(t.Owner.Participant) + "-" + t.Source.String()
}
