package sfu

// SubscribePolicy decides which published tracks a session receives without
// an explicit Subscribe call. Channels are small enough that full mesh is the
// default; large deployments can plug in something more selective.
type SubscribePolicy interface {
	AutoSubscribe(track *PublishedTrack, viewer *Session) bool
}

// FullMeshPolicy subscribes every session to every other session's tracks.
type FullMeshPolicy struct{}

func (FullMeshPolicy) AutoSubscribe(track *PublishedTrack, viewer *Session) bool {
	return track.Owner != viewer
}

// ScreenOptInPolicy auto-subscribes microphone and camera tracks; screen
// shares are announce-only and need an explicit Subscribe, since not every
// member wants the bandwidth of a screen stream.
type ScreenOptInPolicy struct{}

func (ScreenOptInPolicy) AutoSubscribe(track *PublishedTrack, viewer *Session) bool {
	if track.Owner == viewer {
		return false
	}
	return track.Source != SourceScreen
}
