package app

import "github.com/mattias800/miscord/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose signal queue overflowed
// during a channel broadcast.
type Policy interface {
	OnBackPressure(roster core.ChannelRoster, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(roster core.ChannelRoster, member core.MemberSession) BackpressureAction {
	return KickMember
}
