package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/domain"
)

// MemberDTO is the wire shape of a channel member in state snapshots.
type MemberDTO struct {
	ID       domain.UserID `json:"id"`
	Username string        `json:"username"`
	Mute     bool          `json:"mute"`
	Deaf     bool          `json:"deaf"`
}

// PublishResult reports a broadcast outcome; Dropped lists members whose
// signal queue was full.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// ChannelRoster is the signaling-plane membership of one channel: who is
// present and how to fan frames out to them. Media routing lives elsewhere.
type ChannelRoster interface {
	Channel() *domain.Channel
	MemberCount() int
	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	Broadcast(from SessionID, data Frame) PublishResult
	MembersSnapshot() []MemberDTO
}

type ChannelInfo struct {
	ID          domain.ChannelID   `json:"id"`
	Name        domain.ChannelName `json:"name"`
	Kind        domain.ChannelKind `json:"kind"`
	MemberCount int                `json:"member_count"`
}

// rosterImpl is a threadsafe in-memory roster.
// It never closes adapter-owned resources.
type rosterImpl struct {
	channel *domain.Channel
	mu      sync.RWMutex
	bySID   map[SessionID]MemberSession
	byUser  map[domain.UserID]SessionID
}

func NewChannelRoster(channel *domain.Channel) ChannelRoster {
	return &rosterImpl{
		channel: channel,
		bySID:   make(map[SessionID]MemberSession),
		byUser:  make(map[domain.UserID]SessionID),
	}
}

func (r *rosterImpl) Channel() *domain.Channel { return r.channel }

func (r *rosterImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *rosterImpl) AddMember(sid SessionID, ms MemberSession) {
	u := ms.Meta().User.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sid] = ms
	r.byUser[u] = sid
	log.Info().Str("module", "core.channel").Str("sid", string(sid)).Str("user", string(u)).Msg("member added")
}

func (r *rosterImpl) RemoveMember(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ms, ok := r.bySID[sid]; ok {
		u := ms.Meta().User.ID
		delete(r.byUser, u)
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.channel").Str("sid", string(sid)).Msg("member removed")
}

func (r *rosterImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.channel").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *rosterImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for _, ms := range r.bySID {
		meta := ms.Meta()
		out = append(out, MemberDTO{
			ID:       meta.User.ID,
			Username: meta.User.Username,
			Mute:     meta.Mute,
			Deaf:     meta.Deaf,
		})
	}
	return out
}
