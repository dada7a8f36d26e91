package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/app/orch"
	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
	"github.com/mattias800/miscord/internal/sfu"
)

type trackDTO struct {
	TrackID string        `json:"track_id"`
	Owner   domain.UserID `json:"owner"`
	Source  string        `json:"source"`
	Kind    string        `json:"kind"`
}

func (ctl *SignalWSController) createChannel(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type Payload struct {
		Type string `json:"type"`
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad create_channel payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	raw := p.Name
	if len(raw) > 36 {
		raw = raw[:36]
	}
	kind := domain.ChannelText
	if p.Kind == "voice" {
		kind = domain.ChannelVoice
	}

	roster := ctl.Orch.Channels.Create(domain.ChannelName(raw), kind)
	resp := struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
	}{
		"channel_created",
		string(roster.Channel().ID),
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) listChannels(conn *WsSignalConn) {
	resp := struct {
		Type     string             `json:"type"`
		Channels []core.ChannelInfo `json:"channels"`
	}{
		Type:     "channel_list",
		Channels: ctl.Orch.Channels.List(),
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		Name    string `json:"name,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	if !ctl.limiter.Allow(user.ID) {
		ctl.sendError(conn, "rate_limited")
		return
	}

	if p.Name != "" {
		if err := ctl.Orch.Registry.UpdateUsername(sid, p.Name); err == nil {
			log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename on join")
		}
	}

	channelID := domain.ChannelID(p.Channel)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("channel", p.Channel).Msg("join")
	if err := ctl.Orch.Join(sid, channelID); err != nil {
		switch {
		case errors.Is(err, sfu.ErrAlreadyInChannel):
			ctl.sendError(conn, "already_in_channel")
		case errors.Is(err, orch.ErrChannelNotFound):
			ctl.sendError(conn, "channel_not_found")
		default:
			ctl.sendError(conn, err.Error())
		}
		return
	}

	roster, _ := ctl.Orch.Channels.Get(channelID)
	clientResp := struct {
		Type        string             `json:"type"`
		Channel     domain.ChannelID   `json:"channel"`
		ChannelName domain.ChannelName `json:"channel_name"`
		Members     []core.MemberDTO   `json:"members"`
		Count       int                `json:"count"`
		Tracks      []trackDTO         `json:"tracks"`
	}{
		Type:        "channel_state",
		Channel:     roster.Channel().ID,
		ChannelName: roster.Channel().Name,
		Members:     roster.MembersSnapshot(),
		Count:       roster.MemberCount(),
		Tracks:      ctl.channelTracks(channelID),
	}
	ctl.sendJSON(conn, clientResp)

	broadcastResp := struct {
		Type string      `json:"type"`
		User domain.User `json:"user"`
	}{
		Type: "member_joined",
		User: *user,
	}
	ctl.BroadcastFrom(sid, broadcastResp)
}

// handleLeave exits the current channel; the connection itself stays up.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	channelID, _, ok := ctl.Orch.Registry.ChannelOf(sid)

	ctl.Orch.KickBySID(sid)
	ctl.sendJSON(conn, map[string]any{
		"type": "left",
	})

	if ok {
		user := ctl.Orch.Registry.GetOrCreateUser(sid)

		broadcastResp := struct {
			Type string      `json:"type"`
			User domain.User `json:"user"`
		}{
			Type: "member_left",
			User: *user,
		}
		ctl.BroadcastChannel(channelID, broadcastResp)
	}
}

func (ctl *SignalWSController) handleChat(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type chatPayload struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Text == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	frame, err := json.Marshal(struct {
		Type string      `json:"type"`
		From domain.User `json:"from"`
		Text string      `json:"text"`
	}{Type: "chat", From: *user, Text: p.Text})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("chat marshal")
		return
	}
	ctl.Orch.OnFrame(sid, frame)
}

func (ctl *SignalWSController) channelTracks(channelID domain.ChannelID) []trackDTO {
	out := []trackDTO{}
	ch, ok := ctl.Orch.Media.Channel(channelID)
	if !ok {
		return out
	}
	for _, t := range ch.Tracks() {
		out = append(out, trackDTO{
			TrackID: t.ID,
			Owner:   t.Owner.Participant,
			Source:  t.Source.String(),
			Kind:    t.Kind.String(),
		})
	}
	return out
}
