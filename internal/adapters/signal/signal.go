package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/adapters/rtc"
	"github.com/mattias800/miscord/internal/app/orch"
	"github.com/mattias800/miscord/internal/core"
	"github.com/mattias800/miscord/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Factory *rtc.Factory

	limiter *JoinRateLimiter

	mu        sync.Mutex
	debounced map[core.SessionID]func(f func())
}

func NewSignalWSController(o *orch.Orchestrator, f *rtc.Factory) *SignalWSController {
	return &SignalWSController{
		Orch:      o,
		Factory:   f,
		limiter:   NewJoinRateLimiter(10, time.Minute),
		debounced: make(map[core.SessionID]func(f func())),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (ctl *SignalWSController) BroadcastFrom(sid core.SessionID, v any) {
	for _, mate := range ctl.Orch.Registry.ChannelMates(sid) {
		ctl.sendJSON(mate.Session.Signal(), v)
	}
}

func (ctl *SignalWSController) BroadcastChannel(channelID domain.ChannelID, v any) {
	for _, snap := range ctl.Orch.Registry.MembersOfChannel(channelID) {
		ctl.sendJSON(snap.Session.Signal(), v)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	meta := domain.NewMember(user)
	sess := core.NewMemberSession(meta).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

// handleDisconnect runs when the websocket dies: the member leaves its
// channel, mates are told, and all per-session state is dropped.
func (ctl *SignalWSController) handleDisconnect(sid core.SessionID) {
	channelID, _, inChannel := ctl.Orch.Registry.ChannelOf(sid)

	ctl.Orch.KickBySID(sid)

	if inChannel {
		user := ctl.Orch.Registry.GetOrCreateUser(sid)
		ctl.BroadcastChannel(channelID, struct {
			Type string      `json:"type"`
			User domain.User `json:"user"`
		}{Type: "member_left", User: *user})
	}

	ctl.mu.Lock()
	delete(ctl.debounced, sid)
	ctl.mu.Unlock()

	ctl.Orch.Registry.Cancel(sid)
	ctl.Orch.Registry.Unbind(sid)
}
