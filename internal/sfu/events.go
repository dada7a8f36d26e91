package sfu

// Events is the outbound boundary towards the signaling gateway. Emitted
// outside the per-channel control lock; implementations may call back into
// the SFU.
type Events interface {
	// RenegotiationRequired fires when a session's set of send/receive
	// handles changed and the client's transport description must follow.
	RenegotiationRequired(sess *Session)
	// TrackReady fires when a published track is available to subscribers.
	TrackReady(track *PublishedTrack)
	// TrackRemoved fires when a published track is gone.
	TrackRemoved(track *PublishedTrack)
}

// NopEvents is the default sink when no gateway is wired, e.g. in tests.
type NopEvents struct{}

func (NopEvents) RenegotiationRequired(*Session) {}
func (NopEvents) TrackReady(*PublishedTrack)     {}
func (NopEvents) TrackRemoved(*PublishedTrack)   {}
