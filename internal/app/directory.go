package app

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
)

// ChannelDirectory is the server's channel list. Channels are created
// explicitly and live until removed; an empty channel is not reaped here
// because clients browse the list before joining.
type ChannelDirectory struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]core.ChannelRoster
}

func NewChannelDirectory() *ChannelDirectory {
	return &ChannelDirectory{channels: make(map[domain.ChannelID]core.ChannelRoster)}
}

func (d *ChannelDirectory) Create(name domain.ChannelName, kind domain.ChannelKind) core.ChannelRoster {
	ch := &domain.Channel{
		ID:   domain.ChannelID(uuid.NewString()),
		Name: name,
		Kind: kind,
	}
	roster := core.NewChannelRoster(ch)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.ID] = roster
	return roster
}

func (d *ChannelDirectory) Get(id domain.ChannelID) (core.ChannelRoster, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	roster, ok := d.channels[id]
	return roster, ok
}

func (d *ChannelDirectory) List() []core.ChannelInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]core.ChannelInfo, 0, len(d.channels))
	for _, r := range d.channels {
		ch := r.Channel()
		out = append(out, core.ChannelInfo{
			ID:          ch.ID,
			Name:        ch.Name,
			Kind:        ch.Kind,
			MemberCount: r.MemberCount(),
		})
	}
	return out
}

func (d *ChannelDirectory) Remove(id domain.ChannelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channels, id)
}
