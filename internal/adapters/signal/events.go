package signal

import (
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
	"github.com/mattias800/miscord/internal/sfu"
)

// renegotiateDelay coalesces bursts of track changes (a member joining with
// camera and microphone, a teardown cascade) into a single offer.
const renegotiateDelay = 150 * time.Millisecond

// RenegotiationRequired is invoked by the media core whenever a session's
// track set changed. Debounced per session before an offer goes out.
func (ctl *SignalWSController) RenegotiationRequired(sess *sfu.Session) {
	sid := sess.SID

	ctl.mu.Lock()
	deb, ok := ctl.debounced[sid]
	if !ok {
		deb = debounce.New(renegotiateDelay)
		ctl.debounced[sid] = deb
	}
	ctl.mu.Unlock()

	deb(func() { ctl.sendOffer(sid) })
}

func (ctl *SignalWSController) sendOffer(sid core.SessionID) {
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil {
		return
	}
	offer, err := mc.CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("create renegotiation offer")
		return
	}
	ctl.sendJSON(sess.Signal(), map[string]string{
		"type": "offer",
		"sdp":  offer.SDP,
	})
}

// TrackReady announces a new forwardable track to the publisher's channel
// mates, so clients can show it and opt in to screen shares.
func (ctl *SignalWSController) TrackReady(track *sfu.PublishedTrack) {
	ctl.broadcastTrack("track_added", track)
}

func (ctl *SignalWSController) TrackRemoved(track *sfu.PublishedTrack) {
	ctl.broadcastTrack("track_removed", track)
}

func (ctl *SignalWSController) broadcastTrack(msgType string, track *sfu.PublishedTrack) {
	owner := track.Owner
	resp := struct {
		Type    string        `json:"type"`
		TrackID string        `json:"track_id"`
		Owner   domain.UserID `json:"owner"`
		Source  string        `json:"source"`
		Kind    string        `json:"kind"`
	}{
		Type:    msgType,
		TrackID: track.ID,
		Owner:   owner.Participant,
		Source:  track.Source.String(),
		Kind:    track.Kind.String(),
	}
	for _, snap := range ctl.Orch.Registry.MembersOfChannel(owner.Channel) {
		if snap.SID == owner.SID {
			continue
		}
		ctl.sendJSON(snap.Session.Signal(), resp)
	}
}
