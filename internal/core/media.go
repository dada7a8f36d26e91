package core

import (
	"context"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is the transport-level handle for one participant's
// peer connection. Implemented by the rtc adapter.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops all underlying media resources. Safe to call twice.
	Close()
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// ApplyOfferAndCreateAnswer runs the answerer side of a negotiation.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer completes a server-initiated renegotiation.
	ApplyAnswer(webrtc.SessionDescription) error
	// CreateAndSetOffer starts a server-initiated renegotiation.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnClosed sets a callback for cleanup when the transport dies.
	OnClosed(func())
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	// RemoveLocalTrack detaches a previously added track.
	RemoveLocalTrack(sender *webrtc.RTPSender) error
	// WriteRTCP sends feedback packets towards the remote peer.
	WriteRTCP(pkts []rtcp.Packet) error
}
