package devserver

import (
	"context"

	itypes "github.com/DoyleJ11/spark-client/internal/types"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type Register struct {
	ConnID string
	UID    string
	Outbox chan itypes.Frame
}

type Unregister struct {
	ConnID string
}

type JoinRoom struct {
	ConnID    string
	SessionID string
}

type LeaveRoom struct {
	ConnID    string
	SessionID string
}

type SendToUser struct {
	UID   string
	Frame itypes.Frame
}

type Broadcast struct {
	SessionID string
	Frame     itypes.Frame
}

type HubStats struct {
	Conns int
	Users int
	Rooms map[string]int
}

type GetStats struct {
	Reply chan HubStats
}

type ShutdownHub struct{}

func (Register) isHubMsg()    {}
func (Unregister) isHubMsg()  {}
func (JoinRoom) isHubMsg()    {}
func (LeaveRoom) isHubMsg()   {}
func (SendToUser) isHubMsg()  {}
func (Broadcast) isHubMsg()   {}
func (GetStats) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}

type conn struct {
	uid    string
	outbox chan itypes.Frame
	rooms  map[string]struct{}
}

// Hub owns every live websocket connection. Users may hold several
// connections; rooms group connections by session id.
type Hub struct {
	inbox chan HubMsg
	conns map[string]*conn
	users map[string]map[string]struct{}
	rooms map[string]map[string]struct{}
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 256),
		conns:  make(map[string]*conn),
		users:  make(map[string]map[string]struct{}),
		rooms:  make(map[string]map[string]struct{}),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done closes once the hub has released every connection.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) send(m HubMsg) {
	select {
	case h.inbox <- m:
	case <-h.done:
	}
}

// Notify pushes an event to every connection of uid.
func (h *Hub) Notify(uid, event string, payload any) {
	f, err := itypes.NewFrame(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.send(SendToUser{UID: uid, Frame: f})
}

// Publish pushes an event to every connection in the session room.
func (h *Hub) Publish(sessionID, event string, payload any) {
	f, err := itypes.NewFrame(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.send(Broadcast{SessionID: sessionID, Frame: f})
}

func (h *Hub) Stats(ctx context.Context) (HubStats, error) {
	reply := make(chan HubStats, 1)
	h.send(GetStats{Reply: reply})
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return HubStats{}, context.Canceled
	case <-ctx.Done():
		return HubStats{}, ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				h.conns[msg.ConnID] = &conn{uid: msg.UID, outbox: msg.Outbox, rooms: make(map[string]struct{})}
				addMember(h.users, msg.UID, msg.ConnID)

			case Unregister:
				h.drop(msg.ConnID)

			case JoinRoom:
				c := h.conns[msg.ConnID]
				if c == nil {
					break
				}
				c.rooms[msg.SessionID] = struct{}{}
				addMember(h.rooms, msg.SessionID, msg.ConnID)

			case LeaveRoom:
				if c := h.conns[msg.ConnID]; c != nil {
					delete(c.rooms, msg.SessionID)
				}
				removeMember(h.rooms, msg.SessionID, msg.ConnID)

			case SendToUser:
				for id := range h.users[msg.UID] {
					h.deliver(id, msg.Frame)
				}

			case Broadcast:
				for id := range h.rooms[msg.SessionID] {
					h.deliver(id, msg.Frame)
				}

			case GetStats:
				rooms := make(map[string]int, len(h.rooms))
				for id, members := range h.rooms {
					rooms[id] = len(members)
				}
				msg.Reply <- HubStats{Conns: len(h.conns), Users: len(h.users), Rooms: rooms}

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) deliver(connID string, f itypes.Frame) {
	c := h.conns[connID]
	if c == nil {
		return
	}
	select {
	case c.outbox <- f:
	default:
		// Slow reader: cut it loose.
		h.log.Warn("dropping slow connection", zap.String("conn_id", connID), zap.String("uid", c.uid))
		h.drop(connID)
	}
}

func (h *Hub) drop(connID string) {
	c := h.conns[connID]
	if c == nil {
		return
	}
	for room := range c.rooms {
		removeMember(h.rooms, room, connID)
	}
	removeMember(h.users, c.uid, connID)
	delete(h.conns, connID)
	close(c.outbox)
}

func (h *Hub) shutdown() {
	for id := range h.conns {
		h.drop(id)
	}
}

func addMember(m map[string]map[string]struct{}, key, connID string) {
	if m[key] == nil {
		m[key] = make(map[string]struct{})
	}
	m[key][connID] = struct{}{}
}

func removeMember(m map[string]map[string]struct{}, key, connID string) {
	delete(m[key], connID)
	if len(m[key]) == 0 {
		delete(m, key)
	}
}
