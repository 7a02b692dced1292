// Package signaling relays WebRTC signaling messages between the two peers of a session room.
package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/services/monitor"
)

const maxPeersPerRoom = 2

var ErrHubStopped = errors.New("signaling hub stopped")

// Authorizer decides whether a user may join a room.
type Authorizer interface {
	CanJoin(ctx context.Context, room, userID string) (bool, error)
}

type AuthorizerFunc func(ctx context.Context, room, userID string) (bool, error)

func (f AuthorizerFunc) CanJoin(ctx context.Context, room, userID string) (bool, error) {
	return f(ctx, room, userID)
}

type requestKind int

const (
	reqJoin requestKind = iota
	reqLeave
	reqRelay
	reqDisconnect
)

type request struct {
	kind   requestKind
	client *Client
	msg    Message
}

type room struct {
	id    string
	peers map[string]*Client // {peerID: client}
}

// Hub owns the rooms. Only the Run loop touches them; connections talk to it through requests.
type Hub struct {
	auth     Authorizer
	metrics  *monitor.Metrics
	logger   core.Logger
	upgrader websocket.Upgrader

	clients   sync.Map // {*Client: struct{}}
	rooms     map[string]*room
	requests  chan request
	done      chan struct{}
	roomCount int64
}

var _ monitor.RoomCounter = (*Hub)(nil)

func NewHub(conf *core.Config, auth Authorizer, metrics *monitor.Metrics, logger core.Logger) *Hub {
	h := &Hub{
		auth:     auth,
		metrics:  metrics,
		logger:   logger,
		rooms:    make(map[string]*room),
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(conf.Server.CORSOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // not a browser
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// RoomCount returns the number of rooms with at least one peer.
func (h *Hub) RoomCount() int { return int(atomic.LoadInt64(&h.roomCount)) }

// Run serves the rooms until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.clients.Range(func(c, _ interface{}) bool {
			c.(*Client).close()
			return true
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.requests:
			switch req.kind {
			case reqJoin:
				h.join(req.client, req.msg.Room)
			case reqLeave:
				if req.client.room == "" {
					req.client.enqueue(errorMessage(req.msg.Room, CodeNotInRoom, "not in a room"))
					continue
				}
				h.leave(req.client)
			case reqRelay:
				h.relay(req.client, req.msg)
			case reqDisconnect:
				h.leave(req.client)
			}
		}
	}
}

// ServeWS upgrades the request to a websocket for the authenticated user.
// Once it returns, the response has been written: an upgrade failure gets an HTTP error,
// and a stopped hub closes the websocket with a going-away frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "upgrading connection")
	}
	c := newClient(h, conn, userID)
	h.clients.Store(c, struct{}{})
	select {
	case <-h.done:
		h.clients.Delete(c)
		c.goAway("server shutting down")
		return ErrHubStopped
	default:
	}
	h.logger.Debug("signaling connection opened", map[string]interface{}{"peer_id": c.id, "user_id": userID})
	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) submit(req request) bool {
	select {
	case h.requests <- req:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) join(c *Client, roomID string) {
	if c.room != "" {
		c.enqueue(errorMessage(roomID, CodeAlreadyInRoom, fmt.Sprintf("already in room %s", c.room)))
		return
	}
	rm, ok := h.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, peers: make(map[string]*Client, maxPeersPerRoom)}
	}

	// a user coming back replaces its stale connection
	for _, p := range rm.peers {
		if p.userID == c.userID {
			h.removePeer(rm, p)
			p.enqueue(errorMessage(roomID, CodeReplaced, "joined from another connection"))
			p.closeAfterFlush()
			h.logger.Info("signaling peer replaced", map[string]interface{}{"room": roomID, "user_id": c.userID})
		}
	}
	if len(rm.peers) >= maxPeersPerRoom {
		c.enqueue(errorMessage(roomID, CodeRoomFull, "room is full"))
		h.dropIfEmpty(rm)
		return
	}

	peers := rm.peerInfos()
	rm.peers[c.id] = c
	c.room = roomID
	h.rooms[roomID] = rm
	h.updateRoomCount()

	c.enqueue(newMessage(TypeJoined, roomID, JoinedPayload{PeerID: c.id, Peers: peers}))
	h.broadcast(rm, c, newMessage(TypePeerJoined, roomID, PeerInfo{PeerID: c.id, UserID: c.userID}))
}

func (h *Hub) leave(c *Client) {
	rm, ok := h.rooms[c.room]
	if !ok {
		return
	}
	h.removePeer(rm, c)
}

func (h *Hub) removePeer(rm *room, c *Client) {
	if _, ok := rm.peers[c.id]; !ok {
		return
	}
	delete(rm.peers, c.id)
	c.room = ""
	h.broadcast(rm, nil, newMessage(TypePeerLeft, rm.id, PeerInfo{PeerID: c.id, UserID: c.userID}))
	h.dropIfEmpty(rm)
}

func (h *Hub) dropIfEmpty(rm *room) {
	if len(rm.peers) == 0 {
		delete(h.rooms, rm.id)
		h.updateRoomCount()
	}
}

func (h *Hub) relay(c *Client, msg Message) {
	rm, ok := h.rooms[c.room]
	if !ok || (msg.Room != "" && msg.Room != c.room) {
		c.enqueue(errorMessage(msg.Room, CodeNotInRoom, "join the room first"))
		return
	}
	msg.From = c.id
	msg.Room = rm.id

	if msg.To != "" {
		target, ok := rm.peers[msg.To]
		if !ok || target == c {
			c.enqueue(errorMessage(rm.id, CodePeerNotFound, fmt.Sprintf("peer %s is not in the room", msg.To)))
			return
		}
		target.enqueue(msg)
		return
	}
	h.broadcast(rm, c, msg)
}

// broadcast sends msg to every peer of the room but except.
func (h *Hub) broadcast(rm *room, except *Client, msg Message) {
	for _, p := range rm.peers {
		if p != except {
			p.enqueue(msg)
		}
	}
}

func (h *Hub) updateRoomCount() {
	atomic.StoreInt64(&h.roomCount, int64(len(h.rooms)))
	if h.metrics != nil {
		h.metrics.RoomsActive.Set(float64(len(h.rooms)))
	}
}

func (rm *room) peerInfos() []PeerInfo {
	infos := make([]PeerInfo, 0, len(rm.peers))
	for _, p := range rm.peers {
		infos = append(infos, PeerInfo{PeerID: p.id, UserID: p.userID})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].PeerID < infos[j].PeerID })
	return infos
}
