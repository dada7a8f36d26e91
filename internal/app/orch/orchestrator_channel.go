package orch

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
	"github.com/mattias800/miscord/internal/sfu"
)

var ErrChannelNotFound = errors.New("channel not found")

// Join puts a session into a channel. For voice channels this also creates
// the media-core session; a client already in a voice channel must leave it
// first, the error is surfaced instead of an implicit switch.
func (o *Orchestrator) Join(sid core.SessionID, channelID domain.ChannelID) error {
	roster, ok := o.Channels.Get(channelID)
	if !ok {
		return ErrChannelNotFound
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return errors.New("no session bound")
	}

	if cur, _, inChannel := o.Registry.ChannelOf(sid); inChannel {
		if _, inVoice := o.Registry.VoiceSession(sid); inVoice {
			return sfu.ErrAlreadyInChannel
		}
		// Text channel membership is switched implicitly.
		o.cleanupMembership(sid)
		log.Info().Str("sid", string(sid)).Str("from_channel", string(cur)).Msg("left text channel on join")
	}

	if roster.Channel().Kind == domain.ChannelVoice {
		user := o.Registry.GetOrCreateUser(sid)
		voice, err := o.Media.JoinChannel(sid, user.ID, channelID)
		if err != nil {
			return err
		}
		o.Registry.BindVoice(sid, voice)
	}

	roster.AddMember(sid, session)
	o.Registry.UpdateChannel(sid, channelID)
	log.Info().Str("sid", string(sid)).Str("channel", string(channelID)).Msg("added to channel")
	return nil
}

// Move is leave-then-join. The media connection is torn down with the old
// membership, so the client renegotiates after a successful move.
func (o *Orchestrator) Move(sid core.SessionID, to domain.ChannelID) error {
	o.KickBySID(sid)
	return o.Join(sid, to)
}

// KickBySID removes a session from its channel and tears down its media.
// Safe to call for sessions that are not in any channel.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.cleanupMedia(sid)
	o.cleanupMembership(sid)
}

func (o *Orchestrator) cleanupMedia(sid core.SessionID) {
	if voice, ok := o.Registry.VoiceSession(sid); ok {
		o.Media.LeaveChannel(voice)
	}
	if sess, ok := o.Registry.GetSession(sid); ok {
		if mc := sess.Media(); mc != nil {
			mc.Close()
		}
	}
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	channelID, _, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	if roster, ok := o.Channels.Get(channelID); ok {
		roster.RemoveMember(sid)
	}
	o.Registry.RemoveChannel(sid)
}

// EvictChannel kicks every member and removes the channel from the directory.
func (o *Orchestrator) EvictChannel(id domain.ChannelID) {
	for _, snap := range o.Registry.MembersOfChannel(id) {
		o.KickBySID(snap.SID)
	}
	o.Channels.Remove(id)
}
