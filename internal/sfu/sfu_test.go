package sfu

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
)

// fakeTransport records what the media core attaches to a subscriber's
// connection. A nil sender is fine, detach skips it.
type fakeTransport struct {
	mu      sync.Mutex
	added   []*webrtc.TrackLocalStaticRTP
	removed int
	rtcp    [][]rtcp.Packet
	closed  bool
}

func (f *fakeTransport) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, track)
	return nil, nil
}

func (f *fakeTransport) RemoveLocalTrack(sender *webrtc.RTPSender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func (f *fakeTransport) WriteRTCP(pkts []rtcp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rtcp = append(f.rtcp, pkts)
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

func (f *fakeTransport) pliCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, batch := range f.rtcp {
		for _, pkt := range batch {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				n++
			}
		}
	}
	return n
}

type eventRecorder struct {
	mu      sync.Mutex
	renegs  map[core.SessionID]int
	ready   []string
	removed []string
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{renegs: make(map[core.SessionID]int)}
}

func (e *eventRecorder) RenegotiationRequired(sess *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renegs[sess.SID]++
}

func (e *eventRecorder) TrackReady(track *PublishedTrack) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = append(e.ready, track.ID)
}

func (e *eventRecorder) TrackRemoved(track *PublishedTrack) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, track.ID)
}

func (e *eventRecorder) renegCount(sid core.SessionID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renegs[sid]
}

func (e *eventRecorder) readyTracks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ready...)
}

func (e *eventRecorder) removedTracks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.removed...)
}

func newTestSFU(t *testing.T) (*SFU, *eventRecorder) {
	t.Helper()
	s := New(DefaultRegistry(), Config{
		SubscribeWindow:  300 * time.Millisecond,
		SubscribeBackoff: 10 * time.Millisecond,
		PollInterval:     20 * time.Millisecond,
		PipeQueueSize:    32,
	})
	ev := newEventRecorder()
	s.SetEvents(ev)
	return s, ev
}

func joinWithMedia(t *testing.T, s *SFU, sid core.SessionID, user domain.UserID, ch domain.ChannelID) (*Session, *fakeTransport) {
	t.Helper()
	sess, err := s.JoinChannel(sid, user, ch)
	require.NoError(t, err)
	mt := &fakeTransport{}
	sess.SetMedia(mt)
	s.MediaReady(sess)
	return sess, mt
}

func publishReady(t *testing.T, s *SFU, sess *Session, trackID string, kind webrtc.RTPCodecType, mime, streamID string) (*PublishedTrack, *fakeReceiver) {
	t.Helper()
	src := newFakeReceiver()
	src.feed(0)
	track, err := s.PublishTrack(sess, src, trackID, kind, mime, streamID)
	require.NoError(t, err)
	return track, src
}

func TestJoinEnforcesSingleVoiceChannel(t *testing.T) {
	s, _ := newTestSFU(t)

	sess, err := s.JoinChannel("sid-a", "alice", "ch-1")
	require.NoError(t, err)

	_, err = s.JoinChannel("sid-a2", "alice", "ch-2")
	require.ErrorIs(t, err, ErrAlreadyInChannel)

	// Rejoining the same channel without leaving is the same violation.
	_, err = s.JoinChannel("sid-a3", "alice", "ch-1")
	require.ErrorIs(t, err, ErrAlreadyInChannel)

	s.LeaveChannel(sess)
	_, err = s.JoinChannel("sid-a4", "alice", "ch-2")
	require.NoError(t, err)
}

func TestLeaveIsIdempotent(t *testing.T) {
	s, _ := newTestSFU(t)

	sess, err := s.JoinChannel("sid-a", "alice", "ch-1")
	require.NoError(t, err)

	s.LeaveChannel(sess)
	s.LeaveChannel(sess)
	s.LeaveChannel(nil)

	_, ok := s.Channel("ch-1")
	assert.False(t, ok)
}

func TestPublishFansOutToChannelMembers(t *testing.T) {
	s, ev := newTestSFU(t)

	alice, aliceMT := joinWithMedia(t, s, "sid-a", "alice", "ch-1")
	bob, bobMT := joinWithMedia(t, s, "sid-b", "bob", "ch-1")

	track, _ := publishReady(t, s, alice, "cam-a", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeH264, "cam")
	assert.Equal(t, SourceCamera, track.Source)

	require.Eventually(t, func() bool {
		sub, ok := bob.SubscriptionFor("cam-a")
		return ok && sub.State() == SubscriptionActive
	}, time.Second, 10*time.Millisecond)

	assert.Contains(t, ev.readyTracks(), "cam-a")
	assert.GreaterOrEqual(t, ev.renegCount("sid-b"), 1)
	assert.Equal(t, 1, bobMT.addedCount())
	// The publisher never subscribes to itself.
	_, ok := alice.SubscriptionFor("cam-a")
	assert.False(t, ok)
	assert.Zero(t, aliceMT.addedCount())

	// Video subscriptions trigger a keyframe request at the publisher.
	require.Eventually(t, func() bool {
		return aliceMT.pliCount() >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestLateJoinerGetsExistingTracks(t *testing.T) {
	s, _ := newTestSFU(t)

	alice, _ := joinWithMedia(t, s, "sid-a", "alice", "ch-1")
	publishReady(t, s, alice, "mic-a", webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, "voice")

	bob, bobMT := joinWithMedia(t, s, "sid-b", "bob", "ch-1")

	require.Eventually(t, func() bool {
		sub, ok := bob.SubscriptionFor("mic-a")
		return ok && sub.State() == SubscriptionActive
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, bobMT.addedCount())
}

func TestScreenShareIsOptIn(t *testing.T) {
	s, ev := newTestSFU(t)

	alice, _ := joinWithMedia(t, s, "sid-a", "alice", "ch-1")
	bob, bobMT := joinWithMedia(t, s, "sid-b", "bob", "ch-1")

	track, _ := publishReady(t, s, alice, "scr-a", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeH264, "screen-main")
	require.Equal(t, SourceScreen, track.Source)

	// Announced but never auto-attached.
	require.Eventually(t, func() bool {
		for _, id := range ev.readyTracks() {
			if id == "scr-a" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	_, ok := bob.SubscriptionFor("scr-a")
	assert.False(t, ok)
	assert.Zero(t, bobMT.addedCount())

	sub, err := s.Subscribe(bob, "scr-a")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionActive, sub.State())
	assert.Equal(t, 1, bobMT.addedCount())

	require.NoError(t, s.Unsubscribe(bob, "scr-a"))
	_, ok = bob.SubscriptionFor("scr-a")
	assert.False(t, ok)
}

func TestPublishRejectsUnregisteredCodec(t *testing.T) {
	s, _ := newTestSFU(t)
	alice, _ := joinWithMedia(t, s, "sid-a", "alice", "ch-1")

	src := newFakeReceiver()
	_, err := s.PublishTrack(alice, src, "cam-a", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, "cam")
	require.ErrorIs(t, err, ErrUnsupportedCodec)

	ch, ok := s.Channel("ch-1")
	require.True(t, ok)
	assert.Empty(t, ch.Tracks())
}

func TestSubscribeUnknownTrack(t *testing.T) {
	s, _ := newTestSFU(t)
	bob, _ := joinWithMedia(t, s, "sid-b", "bob", "ch-1")

	_, err := s.Subscribe(bob, "no-such-track")
	require.ErrorIs(t, err, ErrTrackNotFound)
}

func TestSubscribeTimesOutWhenReceiverNeverReady(t *testing.T) {
	s, _ := newTestSFU(t)

	alice, _ := joinWithMedia(t, s, "sid-a", "alice", "ch-1")
	bob, _ := joinWithMedia(t, s, "sid-b", "bob", "ch-1")

	// No primer packet: the receive handle stays mute.
	src := newFakeReceiver()
	_, err := s.PublishTrack(alice, src, "scr-a", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeH264, "screen-x")
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Subscribe(bob, "scr-a")
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrReceiverNotReady)
	// The readiness window starts at publish, so the answer lands around the
	// window edge, never immediately and never long after it.
	assert.GreaterOrEqual(t, elapsed, s.cfg.SubscribeWindow-100*time.Millisecond)
	assert.Less(t, elapsed, s.cfg.SubscribeWindow+200*time.Millisecond)

	// The dead track is reaped, later subscribes see it gone.
	require.Eventually(t, func() bool {
		ch, ok := s.Channel("ch-1")
		return ok && len(ch.Tracks()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestUnpublishCascadesToSubscribers(t *testing.T) {
	s, ev := newTestSFU(t)

	alice, _ := joinWithMedia(t, s, "sid-a", "alice", "ch-1")
	bob, _ := joinWithMedia(t, s, "sid-b", "bob", "ch-1")

	publishReady(t, s, alice, "mic-a", webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, "voice")
	require.Eventually(t, func() bool {
		sub, ok := bob.SubscriptionFor("mic-a")
		return ok && sub.State() == SubscriptionActive
	}, time.Second, 10*time.Millisecond)
	before := ev.renegCount("sid-b")

	require.NoError(t, s.UnpublishTrack(alice, "mic-a"))

	_, ok := bob.SubscriptionFor("mic-a")
	assert.False(t, ok)
	assert.Empty(t, alice.Tracks())
	assert.Contains(t, ev.removedTracks(), "mic-a")
	assert.Greater(t, ev.renegCount("sid-b"), before)

	require.ErrorIs(t, s.UnpublishTrack(alice, "mic-a"), ErrTrackNotFound)
}

func TestLeaveCascadesOwnedTracksAndHeldSubscriptions(t *testing.T) {
	s, ev := newTestSFU(t)

	alice, _ := joinWithMedia(t, s, "sid-a", "alice", "ch-1")
	bob, _ := joinWithMedia(t, s, "sid-b", "bob", "ch-1")

	publishReady(t, s, alice, "mic-a", webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, "voice")
	publishReady(t, s, bob, "mic-b", webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, "voice")

	require.Eventually(t, func() bool {
		subA, okA := bob.SubscriptionFor("mic-a")
		subB, okB := alice.SubscriptionFor("mic-b")
		return okA && okB && subA.State() == SubscriptionActive && subB.State() == SubscriptionActive
	}, time.Second, 10*time.Millisecond)

	s.LeaveChannel(alice)

	// Bob loses his subscription into Alice's track; Alice's subscription
	// into Bob's track is gone from Bob's router too.
	_, ok := bob.SubscriptionFor("mic-a")
	assert.False(t, ok)
	assert.Contains(t, ev.removedTracks(), "mic-a")

	// Bob keeps publishing; the channel survives until he leaves.
	ch, ok := s.Channel("ch-1")
	require.True(t, ok)
	bobTrack, ok := ch.Track("mic-b")
	require.True(t, ok)
	assert.Empty(t, bobTrack.Router().Subscribers())
	assert.Len(t, ch.Sessions(), 1)

	s.LeaveChannel(bob)
	_, ok = s.Channel("ch-1")
	assert.False(t, ok)
}

func TestConcurrentSubscribeYieldsOnePipe(t *testing.T) {
	s, _ := newTestSFU(t)

	alice, _ := joinWithMedia(t, s, "sid-a", "alice", "ch-1")
	bob, bobMT := joinWithMedia(t, s, "sid-b", "bob", "ch-1")

	track, _ := publishReady(t, s, alice, "scr-a", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeH264, "screen-x")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Subscribe(bob, "scr-a")
		}()
	}
	wg.Wait()

	assert.Len(t, track.Router().Subscribers(), 1)
	sub, ok := bob.SubscriptionFor("scr-a")
	require.True(t, ok)
	assert.Equal(t, SubscriptionActive, sub.State())
	// The send handle was attached at most once per distinct subscription.
	assert.Equal(t, 1, bobMT.addedCount())
}
