package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
)

func TestRegistryUserLifecycle(t *testing.T) {
	r := NewRegistry()

	u := r.GetOrCreateUser("sid-1")
	assert.Equal(t, domain.UserID("sid-1"), u.ID)
	assert.Equal(t, "guest", u.Username)
	assert.Same(t, u, r.GetOrCreateUser("sid-1"))

	require.NoError(t, r.UpdateUsername("sid-1", "alice"))
	assert.Equal(t, "alice", u.Username)
	require.Error(t, r.UpdateUsername("sid-1", ""))
	require.Error(t, r.UpdateUsername("sid-unknown", "bob"))
}

func TestRegistryChannelAssociation(t *testing.T) {
	r := NewRegistry()
	sess := core.NewMemberSession(domain.NewMember(r.GetOrCreateUser("sid-1")))
	r.BindSignal("sid-1", sess, nil)

	_, _, ok := r.ChannelOf("sid-1")
	assert.False(t, ok)

	require.True(t, r.UpdateChannel("sid-1", "ch-1"))
	ch, got, ok := r.ChannelOf("sid-1")
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID("ch-1"), ch)
	assert.Same(t, sess, got)

	r.RemoveChannel("sid-1")
	_, _, ok = r.ChannelOf("sid-1")
	assert.False(t, ok)
}

func TestRegistryChannelMates(t *testing.T) {
	r := NewRegistry()
	for _, sid := range []core.SessionID{"a", "b", "c"} {
		sess := core.NewMemberSession(domain.NewMember(r.GetOrCreateUser(sid)))
		r.BindSignal(sid, sess, nil)
	}
	r.UpdateChannel("a", "ch-1")
	r.UpdateChannel("b", "ch-1")
	r.UpdateChannel("c", "ch-2")

	mates := r.ChannelMates("a")
	require.Len(t, mates, 1)
	assert.Equal(t, core.SessionID("b"), mates[0].SID)

	assert.Len(t, r.MembersOfChannel("ch-1"), 2)
	assert.Empty(t, r.ChannelMates("c"))
	assert.Empty(t, r.ChannelMates("unknown"))
}

func TestChannelDirectory(t *testing.T) {
	d := NewChannelDirectory()

	voice := d.Create("General Voice", domain.ChannelVoice)
	text := d.Create("general", domain.ChannelText)
	assert.NotEqual(t, voice.Channel().ID, text.Channel().ID)

	got, ok := d.Get(voice.Channel().ID)
	require.True(t, ok)
	assert.Equal(t, domain.ChannelVoice, got.Channel().Kind)

	assert.Len(t, d.List(), 2)

	d.Remove(text.Channel().ID)
	_, ok = d.Get(text.Channel().ID)
	assert.False(t, ok)
}
