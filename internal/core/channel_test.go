package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattias800/miscord/internal/domain"
)

type stubSignal struct {
	frames []Frame
	fail   bool
}

func (s *stubSignal) TrySend(f Frame) error {
	if s.fail {
		return errors.New("queue full")
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *stubSignal) Close() {}

func member(t *testing.T, name string) (MemberSession, *stubSignal) {
	t.Helper()
	u, err := domain.NewUser(name)
	require.NoError(t, err)
	sig := &stubSignal{}
	return NewMemberSession(domain.NewMember(u)).UpdateSignal(sig), sig
}

func TestRosterBroadcastSkipsSender(t *testing.T) {
	roster := NewChannelRoster(&domain.Channel{ID: "ch-1", Name: "general", Kind: domain.ChannelVoice})

	alice, aliceSig := member(t, "alice")
	bob, bobSig := member(t, "bob")
	roster.AddMember("sid-a", alice)
	roster.AddMember("sid-b", bob)

	res := roster.Broadcast("sid-a", Frame("hello"))
	assert.Equal(t, 1, res.SendTo)
	assert.Empty(t, res.Dropped)
	assert.Empty(t, aliceSig.frames)
	require.Len(t, bobSig.frames, 1)
	assert.Equal(t, Frame("hello"), bobSig.frames[0])
}

func TestRosterBroadcastReportsSlowMembers(t *testing.T) {
	roster := NewChannelRoster(&domain.Channel{ID: "ch-1", Name: "general"})

	alice, _ := member(t, "alice")
	bob, bobSig := member(t, "bob")
	bobSig.fail = true
	roster.AddMember("sid-a", alice)
	roster.AddMember("sid-b", bob)

	res := roster.Broadcast("sid-a", Frame("hello"))
	assert.Zero(t, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Same(t, bob, res.Dropped[0])
}

func TestRosterMembership(t *testing.T) {
	roster := NewChannelRoster(&domain.Channel{ID: "ch-1", Name: "general"})
	alice, _ := member(t, "alice")

	roster.AddMember("sid-a", alice)
	assert.Equal(t, 1, roster.MemberCount())

	snap := roster.MembersSnapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "alice", snap[0].Username)

	roster.RemoveMember("sid-a")
	assert.Zero(t, roster.MemberCount())
	// Removing twice is harmless.
	roster.RemoveMember("sid-a")
}
