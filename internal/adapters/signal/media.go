package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/sfu"
)

type trackPayload struct {
	Type    string `json:"type"`
	TrackID string `json:"track_id"`
}

// handleSubscribeTrack is the opt-in path for screen shares; webcam and
// microphone tracks are attached automatically.
func (ctl *SignalWSController) handleSubscribeTrack(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p trackPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TrackID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}

	if err := ctl.Orch.SubscribeTrack(sid, p.TrackID); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("track_id", p.TrackID).Msg("subscribe track")
		switch {
		case errors.Is(err, sfu.ErrTrackNotFound):
			ctl.sendError(conn, "track_not_found")
		case errors.Is(err, sfu.ErrReceiverNotReady):
			ctl.sendError(conn, "receiver_not_ready")
		case errors.Is(err, sfu.ErrUnsupportedCodec):
			ctl.sendError(conn, "unsupported_codec")
		case errors.Is(err, sfu.ErrTransportDisconnected):
			ctl.sendError(conn, "transport_disconnected")
		default:
			ctl.sendError(conn, "subscribe_failed")
		}
		return
	}

	ctl.sendJSON(conn, struct {
		Type    string `json:"type"`
		TrackID string `json:"track_id"`
	}{Type: "subscribed", TrackID: p.TrackID})
}

func (ctl *SignalWSController) handleUnsubscribeTrack(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p trackPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TrackID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}

	if err := ctl.Orch.UnsubscribeTrack(sid, p.TrackID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("track_id", p.TrackID).Msg("unsubscribe track")
		return
	}

	ctl.sendJSON(conn, struct {
		Type    string `json:"type"`
		TrackID string `json:"track_id"`
	}{Type: "unsubscribed", TrackID: p.TrackID})
}

func (ctl *SignalWSController) handleUnpublish(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p trackPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TrackID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}

	if err := ctl.Orch.UnpublishTrack(sid, p.TrackID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("track_id", p.TrackID).Msg("unpublish track")
		ctl.sendError(conn, "track_not_found")
	}
}
