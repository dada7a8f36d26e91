package sfu

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SubscriptionState is the lifecycle of one forwarding pipe.
// Pending -> Active on receiver readiness, Pending|Active -> Closed on
// failure or teardown. Closed is terminal.
type SubscriptionState int32

const (
	SubscriptionPending SubscriptionState = iota
	SubscriptionActive
	SubscriptionClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionPending:
		return "pending"
	case SubscriptionActive:
		return "active"
	case SubscriptionClosed:
		return "closed"
	}
	return "unknown"
}

// TrackWriter is the send side of a forwarding pipe.
// *webrtc.TrackLocalStaticRTP satisfies it.
type TrackWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// Subscription binds one published track's receive side to one subscriber's
// send side. The pipe goroutine is the only writer to the send handle, so
// packet order per (track, subscriber) pair is the queue order.
type Subscription struct {
	Subscriber *Session
	Track      *PublishedTrack
	// Local is the subscriber-side handle created from the codec registry's
	// canonical capability. Attached to the subscriber's transport by the
	// control plane.
	Local *webrtc.TrackLocalStaticRTP

	out   TrackWriter
	state atomic.Int32
	queue chan *rtp.Packet
	stop  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closeErr  error
	sender    *webrtc.RTPSender

	logger zerolog.Logger
}

func newSubscription(subscriber *Session, track *PublishedTrack, local *webrtc.TrackLocalStaticRTP, queueSize int) *Subscription {
	s := &Subscription{
		Subscriber: subscriber,
		Track:      track,
		Local:      local,
		out:        local,
		queue:      make(chan *rtp.Packet, queueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger: log.With().
			Str("module", "sfu.pipe").
			Str("track", track.ID).
			Str("subscriber", string(subscriber.SID)).
			Logger(),
	}
	return s
}

func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// Err reports why the subscription closed, nil for a clean teardown.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Subscription) setSender(sender *webrtc.RTPSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

// Sender returns the transport send handle, nil until attached.
func (s *Subscription) Sender() *webrtc.RTPSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender
}

// activate moves Pending -> Active. Returns false if the subscription was
// closed while waiting for receiver readiness.
func (s *Subscription) activate() bool {
	return s.state.CompareAndSwap(int32(SubscriptionPending), int32(SubscriptionActive))
}

// enqueue hands a packet to the pipe task without blocking the reader.
// Packets are only accepted while Active, so nothing is ever written that was
// not read after activation.
func (s *Subscription) enqueue(pkt *rtp.Packet) bool {
	if s.State() != SubscriptionActive {
		return false
	}
	select {
	case s.queue <- pkt:
		return true
	default:
		return false
	}
}

// run is the forwarding pipe task. One goroutine per subscription; it owns
// the send handle exclusively.
func (s *Subscription) run() {
	defer close(s.done)
	metricPipes.Inc()
	defer metricPipes.Dec()

	for {
		select {
		case <-s.stop:
			return
		case pkt := <-s.queue:
			if err := s.out.WriteRTP(pkt); err != nil {
				s.logger.Error().Err(err).Msg("pipe write failed, closing subscription")
				s.closeWith(ErrTransportDisconnected, false)
				return
			}
			metricPacketsForwarded.Inc()
		}
	}
}

// closeWith moves the subscription to Closed exactly once. With wait set the
// caller does not return until the pipe task has observably stopped issuing
// writes, so the subscriber transport can be torn down afterwards. The pipe
// task itself closes with wait unset.
func (s *Subscription) closeWith(err error, wait bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = err
		s.mu.Unlock()
		s.state.Store(int32(SubscriptionClosed))
		close(s.stop)
	})
	if wait {
		<-s.done
	}
}

// Close tears the pipe down and waits for it to stop. Idempotent.
func (s *Subscription) Close() {
	s.closeWith(nil, true)
}
