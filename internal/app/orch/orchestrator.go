// Package orch coordinates the signaling plane (registry, channel rosters)
// with the media core. Adapters call into it; it never touches websockets
// or SDP directly.
package orch

import (
	"github.com/mattias800/miscord/internal/app"
	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/sfu"
)

type Orchestrator struct {
	Registry *app.Registry
	Channels *app.ChannelDirectory
	Policy   app.Policy
	Media    *sfu.SFU
}

// OnFrame relays a chat frame to the sender's channel mates and applies the
// backpressure policy to members whose signal queue overflowed.
func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame) {
	channelID, _, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	roster, ok := o.Channels.Get(channelID)
	if !ok {
		return
	}

	res := roster.Broadcast(sid, data)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(roster, slow) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfChannel(channelID) {
				if snap.Session == slow {
					o.KickBySID(snap.SID)
				}
			}
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}
