package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
)

func (ctl *SignalWSController) handleRename(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type renamePayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename")
	if err := ctl.Orch.Registry.UpdateUsername(sid, p.Name); err != nil {
		ctl.sendError(conn, "invalid_name")
		return
	}
	ctl.handleWhoAmI(sid, conn)
	user := ctl.Orch.Registry.GetOrCreateUser(sid)

	broadcastResp := struct {
		Type string      `json:"type"`
		User domain.User `json:"user"`
	}{
		Type: "member_updated",
		User: *user,
	}
	ctl.BroadcastFrom(sid, broadcastResp)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	user := ctl.Orch.Registry.GetOrCreateUser(sid)

	resp := struct {
		Type        string             `json:"type"`
		Username    string             `json:"username"`
		Channel     domain.ChannelID   `json:"channel,omitempty"`
		ChannelName domain.ChannelName `json:"channel_name,omitempty"`
	}{
		Type:     "whoami",
		Username: user.Username,
	}
	if channelID, _, ok := ctl.Orch.Registry.ChannelOf(sid); ok {
		if roster, ok := ctl.Orch.Channels.Get(channelID); ok {
			resp.ChannelName = roster.Channel().Name
			resp.Channel = channelID
		}
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleMute(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type mutePayload struct {
		Type string `json:"type"`
		Mute bool   `json:"mute"`
		Deaf bool   `json:"deaf"`
	}
	var p mutePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}

	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		return
	}
	meta := sess.Meta()
	meta.Mute = p.Mute
	meta.Deaf = p.Deaf

	broadcastResp := struct {
		Type string      `json:"type"`
		User domain.User `json:"user"`
		Mute bool        `json:"mute"`
		Deaf bool        `json:"deaf"`
	}{
		Type: "member_updated",
		User: *meta.User,
		Mute: p.Mute,
		Deaf: p.Deaf,
	}
	ctl.BroadcastFrom(sid, broadcastResp)
}
