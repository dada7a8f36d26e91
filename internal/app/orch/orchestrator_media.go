package orch

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/core"
)

func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		o.OnTrack(trackCtx, sid, track)
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid) })
}

// AttachMedia stores the negotiated connection on both the signaling session
// and the voice session.
func (o *Orchestrator) AttachMedia(sid core.SessionID, mc core.MediaConnection) bool {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return false
	}
	sess.UpdateMedia(mc)
	if voice, ok := o.Registry.VoiceSession(sid); ok {
		voice.SetMedia(mc)
	}
	return true
}

// OnMediaDisconnect handles a dead transport: presence in a voice channel
// implies working media, so the member leaves the channel entirely.
func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID) {
	o.KickBySID(sid)
}

// OnTrack is called when a new remote media track appears for a given session.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote) {
	voice, ok := o.Registry.VoiceSession(sid)
	if !ok {
		log.Info().
			Str("module", "orch").
			Str("sid", string(sid)).
			Msg("OnTrack: no voice session for sid")
		return
	}
	if _, err := o.Media.PublishTrack(voice, track, track.ID(), track.Kind(), track.Codec().MimeType, track.StreamID()); err != nil {
		log.Error().Err(err).
			Str("module", "orch").
			Str("sid", string(sid)).
			Str("track_id", track.ID()).
			Str("mime", track.Codec().MimeType).
			Msg("publish track")
	}
}

// OnMediaReady is called once the offer/answer exchange completed; the media
// core then subscribes the session to eligible tracks in its channel.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) {
	voice, ok := o.Registry.VoiceSession(sid)
	if !ok {
		return
	}
	o.Media.MediaReady(voice)
}

// SubscribeTrack is the explicit opt-in path, used for screen shares which
// are never auto-subscribed.
func (o *Orchestrator) SubscribeTrack(sid core.SessionID, trackID string) error {
	voice, ok := o.Registry.VoiceSession(sid)
	if !ok {
		return ErrChannelNotFound
	}
	_, err := o.Media.Subscribe(voice, trackID)
	return err
}

func (o *Orchestrator) UnsubscribeTrack(sid core.SessionID, trackID string) error {
	voice, ok := o.Registry.VoiceSession(sid)
	if !ok {
		return ErrChannelNotFound
	}
	return o.Media.Unsubscribe(voice, trackID)
}

func (o *Orchestrator) UnpublishTrack(sid core.SessionID, trackID string) error {
	voice, ok := o.Registry.VoiceSession(sid)
	if !ok {
		return ErrChannelNotFound
	}
	return o.Media.UnpublishTrack(voice, trackID)
}
