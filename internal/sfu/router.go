package sfu

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/core"
)

// routerConfig carries the resolved timing knobs a router runs with.
type routerConfig struct {
	readyWindow  time.Duration
	readyBackoff time.Duration
	pollInterval time.Duration
	queueSize    int
}

// TrackRouter moves RTP packets from one published track's receive side to
// every live subscriber pipe, unmodified. The read loop is the data plane; it
// never takes the channel's control-plane lock.
type TrackRouter struct {
	track    *PublishedTrack
	src      TrackReceiver
	registry *Registry
	cfg      routerConfig

	mu   sync.RWMutex
	subs map[core.SessionID]*Subscription

	// ready closes when the receive handle produced its first packet.
	ready chan struct{}
	// failed closes on terminal failure; failErr is set before the close.
	failed   chan struct{}
	failErr  error
	termOnce sync.Once

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// onClosed is invoked from a fresh goroutine when the read loop dies on
	// its own (receiver never ready, transport gone), carrying the pipes
	// that were closed with it.
	onClosed func(err error, closed []*Subscription)

	logger zerolog.Logger
}

func newTrackRouter(track *PublishedTrack, src TrackReceiver, registry *Registry, cfg routerConfig) *TrackRouter {
	return &TrackRouter{
		track:    track,
		src:      src,
		registry: registry,
		cfg:      cfg,
		subs:     make(map[core.SessionID]*Subscription),
		ready:    make(chan struct{}),
		failed:   make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger: log.With().
			Str("module", "sfu.router").
			Str("track", track.ID).
			Str("publisher", string(track.Owner.SID)).
			Logger(),
	}
}

// Ready reports whether the receive handle has produced a packet yet.
func (r *TrackRouter) Ready() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// Err returns the terminal failure, nil while the router is healthy.
func (r *TrackRouter) Err() error {
	select {
	case <-r.failed:
		return r.failErr
	default:
		return nil
	}
}

// run is the forwarding loop. The receive handle may not be readable right
// after track creation because the transport initializes asynchronously, so
// the loop first polls for readiness inside a bounded window; forwarding
// against a not-yet-ready handle is fatal for the whole track, not transient.
func (r *TrackRouter) run() {
	defer close(r.done)

	start := time.Now()
	deadline := start.Add(r.cfg.readyWindow)
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		_ = r.src.SetReadDeadline(time.Now().Add(r.cfg.pollInterval))
		pkt, _, err := r.src.ReadRTP()
		if err == nil {
			r.logger.Info().
				Dur("elapsed", time.Since(start)).
				Msg("receiver ready, forwarding started")
			close(r.ready)
			r.forward(pkt)
			break
		}
		if !isDeadline(err) {
			r.fail(fmt.Errorf("read before ready: %w", ErrTransportDisconnected))
			return
		}
		if time.Now().After(deadline) {
			r.logger.Error().
				Dur("elapsed", time.Since(start)).
				Msg("receiver never became ready")
			r.fail(ErrReceiverNotReady)
			return
		}
	}

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		_ = r.src.SetReadDeadline(time.Now().Add(r.cfg.pollInterval))
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			if isDeadline(err) {
				continue
			}
			if isClosed(err) {
				r.logger.Info().Msg("source track ended, stopping router")
			} else {
				r.logger.Error().Err(err).Msg("source read failed, stopping router")
			}
			r.fail(ErrTransportDisconnected)
			return
		}
		r.forward(pkt)
	}
}

// forward fans one packet out to every live pipe. Subscriber membership is
// snapshotted under RLock so control-plane writers are never blocked by a
// slow iteration, and writes happen on the pipe tasks, not here.
func (r *TrackRouter) forward(pkt *rtp.Packet) {
	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		if !s.enqueue(pkt) {
			metricPacketsDropped.Inc()
		}
	}
}

// AddSubscriber creates the subscriber-side send handle from the codec
// registry's canonical capability and registers a Pending pipe. The caller
// still has to wait for receiver readiness before activating it.
func (r *TrackRouter) AddSubscriber(subscriber *Session) (*Subscription, error) {
	params, ok := r.registry.Lookup(r.track.Kind, r.track.MimeType)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", r.track.Kind, r.track.MimeType, ErrUnsupportedCodec)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(
		params.RTPCodecCapability,
		r.track.ID+"-"+string(subscriber.SID),
		r.track.subscriberStreamID(),
	)
	if err != nil {
		return nil, fmt.Errorf("create subscriber track: %w", err)
	}
	// The send side must carry the registered capability exactly; a
	// semantically equivalent value with a different fmtp line fails
	// negotiation on the subscriber transport.
	if !CapabilityEqual(local.Codec(), params.RTPCodecCapability) {
		return nil, fmt.Errorf("subscriber capability diverged from registry: %w", ErrUnsupportedCodec)
	}

	sub := newSubscription(subscriber, r.track, local, r.cfg.queueSize)

	r.mu.Lock()
	if err := r.Err(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if existing, ok := r.subs[subscriber.SID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.subs[subscriber.SID] = sub
	r.mu.Unlock()

	go sub.run()

	r.logger.Info().Str("subscriber", string(subscriber.SID)).Msg("subscriber added")
	return sub, nil
}

// AwaitReady blocks until the publisher's receive side produced its first
// packet, polling with a short backoff, and gives up after window. Plain
// bounded wait, no background machinery.
func (r *TrackRouter) AwaitReady(window, backoff time.Duration) error {
	select {
	case <-r.ready:
		return nil
	default:
	}

	deadline := time.Now().Add(window)
	for {
		select {
		case <-r.ready:
			return nil
		case <-r.failed:
			return r.failErr
		case <-time.After(backoff):
		}
		if time.Now().After(deadline) {
			return ErrReceiverNotReady
		}
	}
}

// RemoveSubscriber closes one pipe with the given reason (nil for a clean
// unsubscribe) and guarantees its task stopped issuing writes before
// returning.
func (r *TrackRouter) RemoveSubscriber(sid core.SessionID, reason error) (*Subscription, bool) {
	r.mu.Lock()
	sub, ok := r.subs[sid]
	if ok {
		delete(r.subs, sid)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	sub.closeWith(reason, true)
	r.logger.Info().Str("subscriber", string(sid)).Msg("subscriber removed")
	return sub, true
}

// Subscribers returns a snapshot of the live pipes.
func (r *TrackRouter) Subscribers() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

// Stop tears the router down: unblocks the read loop, waits for it, then
// closes every pipe. Safe to call twice; does not return until every
// forwarding task has observably stopped. Returns the pipes it closed.
func (r *TrackRouter) Stop() []*Subscription {
	r.terminate(ErrTransportDisconnected)
	r.stopOnce.Do(func() {
		close(r.stop)
		// Unblock a pending ReadRTP immediately instead of waiting out the
		// poll interval.
		_ = r.src.SetReadDeadline(time.Now())
	})
	<-r.done
	return r.closeAllSubs(nil)
}

// fail is the router's own terminal path, called from the read loop.
func (r *TrackRouter) fail(err error) {
	r.terminate(err)
	closed := r.closeAllSubs(err)
	if cb := r.onClosed; cb != nil {
		go cb(err, closed)
	}
}

func (r *TrackRouter) terminate(err error) {
	r.termOnce.Do(func() {
		r.failErr = err
		close(r.failed)
	})
}

func (r *TrackRouter) closeAllSubs(err error) []*Subscription {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[core.SessionID]*Subscription)
	r.mu.Unlock()

	for _, s := range subs {
		s.closeWith(err, true)
	}
	return subs
}

// isDeadline separates poll timeouts from real transport errors.
func isDeadline(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// isClosed reports an orderly end of the receive stream.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF)
}
