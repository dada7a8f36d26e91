package domain

type (
	ChannelName string
	ChannelID   string
)

// ChannelKind separates text channels (handled by the message store)
// from voice channels (handled by the media core).
type ChannelKind int

const (
	ChannelText ChannelKind = iota
	ChannelVoice
)

type Channel struct {
	ID   ChannelID
	Name ChannelName
	Kind ChannelKind
}
