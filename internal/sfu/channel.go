package sfu

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
)

// Channel is the per-voice-channel bookkeeping layer above the routers: it
// answers "who should receive this track" and keeps the answer consistent as
// sessions come and go. Membership and routing changes are serialized by mu;
// the forwarding loops never run under it.
type Channel struct {
	ID domain.ChannelID

	sfu    *SFU
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[core.SessionID]*Session
	tracks   map[string]*PublishedTrack
}

func newChannel(id domain.ChannelID, s *SFU) *Channel {
	return &Channel{
		ID:       id,
		sfu:      s,
		sessions: make(map[core.SessionID]*Session),
		tracks:   make(map[string]*PublishedTrack),
		logger:   log.With().Str("module", "sfu.channel").Str("channel", string(id)).Logger(),
	}
}

func (c *Channel) addSession(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sess.SID] = sess
}

// Sessions returns a snapshot of the channel's members.
func (c *Channel) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// Track resolves a published track by ID.
func (c *Channel) Track(id string) (*PublishedTrack, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tracks[id]
	return t, ok
}

// Tracks returns a snapshot of the channel's published tracks.
func (c *Channel) Tracks() []*PublishedTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PublishedTrack, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

func (c *Channel) empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions) == 0
}

// publish registers a new published track, starts its router and fans out
// subscriptions per the channel policy.
func (c *Channel) publish(owner *Session, src TrackReceiver, trackID string, kind webrtc.RTPCodecType, mimeType, streamID string) (*PublishedTrack, error) {
	if owner.Closed() {
		return nil, ErrSessionClosed
	}
	if _, ok := c.sfu.registry.Lookup(kind, mimeType); !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, mimeType, ErrUnsupportedCodec)
	}

	track := &PublishedTrack{
		ID:       trackID,
		Owner:    owner,
		Kind:     kind,
		MimeType: mimeType,
		Source:   sourceOf(kind, streamID),
		StreamID: streamID,
	}
	router := newTrackRouter(track, src, c.sfu.registry, c.sfu.routerConfig())
	router.onClosed = func(err error, closed []*Subscription) {
		c.logger.Info().Err(err).Str("track", trackID).Msg("router closed on its own, tearing down track")
		c.teardownTrack(track, closed)
	}
	track.router = router

	c.mu.Lock()
	if _, dup := c.tracks[trackID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("track %s already published", trackID)
	}
	c.tracks[trackID] = track
	viewers := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		viewers = append(viewers, s)
	}
	c.mu.Unlock()

	owner.addTrack(track)
	metricTracks.Inc()
	go router.run()

	c.logger.Info().
		Str("track", trackID).
		Str("publisher", string(owner.SID)).
		Str("source", track.Source.String()).
		Msg("track published")

	c.sfu.notifyTrackReady(track)

	for _, viewer := range viewers {
		if !c.sfu.policy.AutoSubscribe(track, viewer) {
			continue
		}
		if viewer.Media() == nil {
			continue
		}
		go func(v *Session) {
			if _, err := c.subscribe(v, track); err != nil {
				c.logger.Warn().Err(err).
					Str("track", trackID).
					Str("subscriber", string(v.SID)).
					Msg("auto-subscribe failed")
			}
		}(viewer)
	}
	return track, nil
}

// mediaReady subscribes a session whose transport just came up to every
// eligible existing track.
func (c *Channel) mediaReady(sess *Session) {
	for _, track := range c.Tracks() {
		if !c.sfu.policy.AutoSubscribe(track, sess) {
			continue
		}
		go func(t *PublishedTrack) {
			if _, err := c.subscribe(sess, t); err != nil {
				c.logger.Warn().Err(err).
					Str("track", t.ID).
					Str("subscriber", string(sess.SID)).
					Msg("subscribe on media ready failed")
			}
		}(track)
	}
}

// subscribe is the full add-subscriber operation: register a Pending pipe
// under the control lock, wait out receiver readiness without it, then
// activate and attach the send handle to the subscriber's transport.
func (c *Channel) subscribe(sess *Session, track *PublishedTrack) (*Subscription, error) {
	if sess.Closed() {
		return nil, ErrSessionClosed
	}

	c.mu.Lock()
	if cur, ok := c.tracks[track.ID]; !ok || cur != track {
		c.mu.Unlock()
		return nil, ErrTrackNotFound
	}
	if existing, ok := sess.SubscriptionFor(track.ID); ok {
		c.mu.Unlock()
		return existing, nil
	}
	sub, err := track.router.AddSubscriber(sess)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	sess.addSubscription(track.ID, sub)
	c.mu.Unlock()

	start := time.Now()
	if err := track.router.AwaitReady(c.sfu.cfg.SubscribeWindow, c.sfu.cfg.SubscribeBackoff); err != nil {
		c.logger.Error().Err(err).
			Dur("elapsed", time.Since(start)).
			Str("track", track.ID).
			Str("subscriber", string(sess.SID)).
			Msg("subscription failed waiting for receiver")
		c.dropSubscription(sess, track, err)
		return nil, err
	}

	if !sub.activate() {
		// Track was torn down while we waited.
		sess.removeSubscription(track.ID)
		if err := sub.Err(); err != nil {
			return nil, err
		}
		return nil, ErrTransportDisconnected
	}

	if mt := sess.Media(); mt != nil {
		sender, err := mt.AddLocalTrack(sub.Local)
		if err != nil {
			c.dropSubscription(sess, track, err)
			return nil, fmt.Errorf("attach subscriber track: %w", err)
		}
		sub.setSender(sender)
	}

	c.requestKeyFrame(track)
	c.sfu.notifyRenegotiation(sess)

	c.logger.Info().
		Str("track", track.ID).
		Str("subscriber", string(sess.SID)).
		Msg("subscription active")
	return sub, nil
}

func (c *Channel) dropSubscription(sess *Session, track *PublishedTrack, reason error) {
	sess.removeSubscription(track.ID)
	if sub, ok := track.router.RemoveSubscriber(sess.SID, reason); ok {
		c.detach(sub)
	}
}

// unsubscribe tears down one held subscription.
func (c *Channel) unsubscribe(sess *Session, trackID string) error {
	sub, had := sess.removeSubscription(trackID)
	if !had {
		return ErrTrackNotFound
	}
	if track, ok := c.Track(trackID); ok {
		track.router.RemoveSubscriber(sess.SID, nil)
	} else {
		sub.Close()
	}
	c.detach(sub)
	c.sfu.notifyRenegotiation(sess)
	return nil
}

// teardownTrack unregisters a track and cascades to every pipe; closed may
// already carry pipes shut down by the router's own failure path.
func (c *Channel) teardownTrack(track *PublishedTrack, closed []*Subscription) {
	c.mu.Lock()
	_, registered := c.tracks[track.ID]
	if registered {
		delete(c.tracks, track.ID)
	}
	c.mu.Unlock()

	if !registered && closed == nil {
		// Already torn down by the other path.
		return
	}
	if registered {
		metricTracks.Dec()
	}

	closed = append(closed, track.router.Stop()...)
	track.Owner.removeTrack(track.ID)

	for _, sub := range closed {
		sub.Subscriber.removeSubscription(track.ID)
		c.detach(sub)
		c.sfu.notifyRenegotiation(sub.Subscriber)
	}
	if registered {
		c.sfu.notifyTrackRemoved(track)
	}
	c.logger.Info().Str("track", track.ID).Int("subscribers", len(closed)).Msg("track removed")
}

// removeSession destroys one member's footprint: owned tracks cascade to all
// of their subscribers, held subscriptions are closed on their routers.
func (c *Channel) removeSession(sess *Session) {
	c.mu.Lock()
	delete(c.sessions, sess.SID)
	c.mu.Unlock()

	for _, track := range sess.Tracks() {
		c.teardownTrack(track, nil)
	}
	for _, sub := range sess.Subscriptions() {
		sub.Track.router.RemoveSubscriber(sess.SID, nil)
		sess.removeSubscription(sub.Track.ID)
		// The transport goes down with the session; no need to detach
		// individual senders.
	}
	if mt := sess.Media(); mt != nil {
		mt.Close()
	}
}

// detach removes the pipe's send handle from the subscriber transport, if it
// was ever attached.
func (c *Channel) detach(sub *Subscription) {
	sender := sub.Sender()
	if sender == nil {
		return
	}
	if mt := sub.Subscriber.Media(); mt != nil {
		_ = mt.RemoveLocalTrack(sender)
	}
}

// requestKeyFrame asks the publisher for an immediate keyframe so a fresh
// subscriber does not stare at grey video until the next natural one.
func (c *Channel) requestKeyFrame(track *PublishedTrack) {
	if track.Kind != webrtc.RTPCodecTypeVideo {
		return
	}
	mt := track.Owner.Media()
	if mt == nil {
		return
	}
	pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(track.router.src.SSRC())}
	if err := mt.WriteRTCP([]rtcp.Packet{pli}); err != nil {
		c.logger.Warn().Err(err).Str("track", track.ID).Msg("keyframe request failed")
	}
}
