package sfu

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
)

// MediaTransport is the slice of the transport connection the media core
// needs: attaching send handles and pushing feedback to the remote peer.
// core.MediaConnection satisfies it.
type MediaTransport interface {
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	RemoveLocalTrack(sender *webrtc.RTPSender) error
	WriteRTCP(pkts []rtcp.Packet) error
	Close()
}

// Session is one participant's presence in one voice channel: their
// transport handle, the tracks they publish, and the subscriptions they hold.
type Session struct {
	SID         core.SessionID
	Participant domain.UserID
	Channel     domain.ChannelID

	mu     sync.Mutex
	media  MediaTransport
	tracks map[string]*PublishedTrack // owned, by track ID
	subs   map[string]*Subscription   // held, by target track ID
	closed bool
}

func newSession(sid core.SessionID, participant domain.UserID, channel domain.ChannelID) *Session {
	return &Session{
		SID:         sid,
		Participant: participant,
		Channel:     channel,
		tracks:      make(map[string]*PublishedTrack),
		subs:        make(map[string]*Subscription),
	}
}

// SetMedia attaches the transport once the offer/answer exchange completed.
func (s *Session) SetMedia(mt MediaTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media = mt
}

func (s *Session) Media() MediaTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// Closed reports whether Leave already ran for this session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// markClosed flips the session to closed; false if it already was, which is
// what makes Leave idempotent.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *Session) addTrack(t *PublishedTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[t.ID] = t
}

func (s *Session) removeTrack(id string) (*PublishedTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[id]
	if ok {
		delete(s.tracks, id)
	}
	return t, ok
}

// Tracks returns a snapshot of the session's published tracks.
func (s *Session) Tracks() []*PublishedTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PublishedTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Session) addSubscription(trackID string, sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[trackID] = sub
}

func (s *Session) removeSubscription(trackID string) (*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[trackID]
	if ok {
		delete(s.subs, trackID)
	}
	return sub, ok
}

// Subscriptions returns a snapshot of the subscriptions this session holds.
func (s *Session) Subscriptions() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// SubscriptionFor returns the subscription this session holds into a track.
func (s *Session) SubscriptionFor(trackID string) (*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[trackID]
	return sub, ok
}
