// Package sfu is the media-routing core: it accepts inbound RTP from each
// publisher in a voice channel and relays it to every interested subscriber
// without transcoding. Authentication and membership checks happen before
// anything reaches this package.
package sfu

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
)

// Config carries the timing knobs for subscription setup and forwarding.
type Config struct {
	// SubscribeWindow bounds how long a subscribe waits for the publisher's
	// receive handle to become readable.
	SubscribeWindow time.Duration `mapstructure:"subscribe_window"`
	// SubscribeBackoff is the pause between readiness checks.
	SubscribeBackoff time.Duration `mapstructure:"subscribe_backoff"`
	// PollInterval bounds a single blocking read so shutdown is observed
	// promptly.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// PipeQueueSize is the per-pipe buffer decoupling the read loop from
	// subscriber writes.
	PipeQueueSize int `mapstructure:"pipe_queue_size"`
}

func (c Config) withDefaults() Config {
	if c.SubscribeWindow == 0 {
		c.SubscribeWindow = 5 * time.Second
	}
	if c.SubscribeBackoff == 0 {
		c.SubscribeBackoff = 100 * time.Millisecond
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.PipeQueueSize == 0 {
		c.PipeQueueSize = 64
	}
	return c
}

// SFU owns the sessions and channels of the media core and enforces the
// one-voice-channel-per-participant invariant.
type SFU struct {
	cfg      Config
	registry *Registry
	policy   SubscribePolicy
	// events is wired once at startup, before any traffic.
	events Events
	logger zerolog.Logger

	mu            sync.RWMutex
	channels      map[domain.ChannelID]*Channel
	byParticipant map[domain.UserID]*Session
}

func New(registry *Registry, cfg Config) *SFU {
	return &SFU{
		cfg:           cfg.withDefaults(),
		registry:      registry,
		policy:        ScreenOptInPolicy{},
		events:        NopEvents{},
		channels:      make(map[domain.ChannelID]*Channel),
		byParticipant: make(map[domain.UserID]*Session),
		logger:        log.With().Str("module", "sfu").Logger(),
	}
}

// Registry exposes the codec table so transport adapters derive their media
// engine from the same source of truth.
func (s *SFU) Registry() *Registry { return s.registry }

// SetEvents wires the gateway's event sink. Call before serving traffic.
func (s *SFU) SetEvents(ev Events) {
	if ev == nil {
		ev = NopEvents{}
	}
	s.events = ev
}

// SetPolicy replaces the subscription topology policy. Call before serving
// traffic.
func (s *SFU) SetPolicy(p SubscribePolicy) {
	if p == nil {
		p = ScreenOptInPolicy{}
	}
	s.policy = p
}

func (s *SFU) routerConfig() routerConfig {
	return routerConfig{
		readyWindow:  s.cfg.SubscribeWindow,
		readyBackoff: s.cfg.SubscribeBackoff,
		pollInterval: s.cfg.PollInterval,
		queueSize:    s.cfg.PipeQueueSize,
	}
}

// JoinChannel creates a session for a participant entering a voice channel.
// A participant may be in at most one voice channel at a time; the caller
// must leave before joining elsewhere.
func (s *SFU) JoinChannel(sid core.SessionID, participant domain.UserID, channelID domain.ChannelID) (*Session, error) {
	s.mu.Lock()
	if existing, ok := s.byParticipant[participant]; ok && !existing.Closed() {
		s.mu.Unlock()
		return nil, ErrAlreadyInChannel
	}
	sess := newSession(sid, participant, channelID)
	ch, ok := s.channels[channelID]
	if !ok {
		ch = newChannel(channelID, s)
		s.channels[channelID] = ch
		s.logger.Info().Str("channel", string(channelID)).Msg("created channel session registry")
	}
	s.byParticipant[participant] = sess
	s.mu.Unlock()

	ch.addSession(sess)
	metricSessions.Inc()

	s.logger.Info().
		Str("sid", string(sid)).
		Str("participant", string(participant)).
		Str("channel", string(channelID)).
		Msg("participant joined voice channel")
	return sess, nil
}

// LeaveChannel destroys the session and everything hanging off it: owned
// published tracks (cascading to all of their subscriptions, wherever held)
// and the subscriptions the session holds into other tracks. Idempotent.
func (s *SFU) LeaveChannel(sess *Session) {
	if sess == nil || !sess.markClosed() {
		return
	}

	s.mu.Lock()
	ch := s.channels[sess.Channel]
	if cur, ok := s.byParticipant[sess.Participant]; ok && cur == sess {
		delete(s.byParticipant, sess.Participant)
	}
	s.mu.Unlock()

	if ch != nil {
		ch.removeSession(sess)
	}
	metricSessions.Dec()

	s.mu.Lock()
	if ch != nil && ch.empty() {
		delete(s.channels, sess.Channel)
		s.logger.Info().Str("channel", string(sess.Channel)).Msg("removed empty channel session registry")
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("sid", string(sess.SID)).
		Str("channel", string(sess.Channel)).
		Msg("participant left voice channel")
}

// MediaReady tells the core a session's transport finished negotiating, so
// it can be subscribed to the channel's existing tracks.
func (s *SFU) MediaReady(sess *Session) {
	if ch := s.channel(sess.Channel); ch != nil {
		ch.mediaReady(sess)
	}
}

// PublishTrack registers a new inbound track and starts routing it.
func (s *SFU) PublishTrack(sess *Session, src TrackReceiver, trackID string, kind webrtc.RTPCodecType, mimeType, streamID string) (*PublishedTrack, error) {
	ch := s.channel(sess.Channel)
	if ch == nil {
		return nil, ErrSessionClosed
	}
	return ch.publish(sess, src, trackID, kind, mimeType, streamID)
}

// UnpublishTrack stops a track the session owns, cascading to every
// subscription on it.
func (s *SFU) UnpublishTrack(sess *Session, trackID string) error {
	ch := s.channel(sess.Channel)
	if ch == nil {
		return ErrSessionClosed
	}
	track, ok := ch.Track(trackID)
	if !ok || track.Owner != sess {
		return ErrTrackNotFound
	}
	ch.teardownTrack(track, nil)
	return nil
}

// Subscribe explicitly subscribes a session to a track, used for opt-in
// sources like screen shares.
func (s *SFU) Subscribe(sess *Session, trackID string) (*Subscription, error) {
	ch := s.channel(sess.Channel)
	if ch == nil {
		return nil, ErrSessionClosed
	}
	track, ok := ch.Track(trackID)
	if !ok {
		return nil, ErrTrackNotFound
	}
	return ch.subscribe(sess, track)
}

// Unsubscribe drops a session's subscription to a track.
func (s *SFU) Unsubscribe(sess *Session, trackID string) error {
	ch := s.channel(sess.Channel)
	if ch == nil {
		return ErrSessionClosed
	}
	return ch.unsubscribe(sess, trackID)
}

// Channel returns the bookkeeping for one voice channel, if it has members.
func (s *SFU) Channel(id domain.ChannelID) (*Channel, bool) {
	ch := s.channel(id)
	return ch, ch != nil
}

func (s *SFU) channel(id domain.ChannelID) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[id]
}

func (s *SFU) notifyRenegotiation(sess *Session) {
	if !sess.Closed() {
		s.events.RenegotiationRequired(sess)
	}
}

func (s *SFU) notifyTrackReady(track *PublishedTrack) {
	s.events.TrackReady(track)
}

func (s *SFU) notifyTrackRemoved(track *PublishedTrack) {
	s.events.TrackRemoved(track)
}
