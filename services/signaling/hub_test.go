package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/services/monitor"
)

const room1 = "session-1"

type testHub struct {
	hub    *Hub
	srv    *httptest.Server
	stop   context.CancelFunc
	served chan error
}

// members: {room: allowed users}; "broken" rooms fail authorization.
func newTestHub(t *testing.T, members map[string][]string) *testHub {
	auth := AuthorizerFunc(func(_ context.Context, room, userID string) (bool, error) {
		if room == "broken" {
			return false, errors.New("db down")
		}
		for _, m := range members[room] {
			if m == userID {
				return true, nil
			}
		}
		return false, nil
	})
	conf := core.NewTestConfig()
	hub := NewHub(conf, auth, monitor.NewMetrics(5*time.Minute), core.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	served := make(chan error, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := hub.ServeWS(w, r, r.URL.Query().Get("user"))
		select {
		case served <- err:
		default:
		}
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testHub{hub: hub, srv: srv, stop: cancel, served: served}
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func (th *testHub) connect(t *testing.T, userID string) *peer {
	url := "ws" + strings.TrimPrefix(th.srv.URL, "http") + "/?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) send(msg Message) {
	require.NoError(p.t, p.conn.WriteJSON(msg))
}

func (p *peer) sendRaw(s string) {
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, []byte(s)))
}

func (p *peer) read() Message {
	_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(p.t, p.conn.ReadJSON(&msg))
	return msg
}

func (p *peer) expect(typ MessageType) Message {
	msg := p.read()
	require.Equal(p.t, typ, msg.Type, "payload: %s", msg.Payload)
	return msg
}

func (p *peer) expectError(code string) {
	var ep ErrorPayload
	require.NoError(p.t, json.Unmarshal(p.expect(TypeError).Payload, &ep))
	assert.Equal(p.t, code, ep.Code)
}

func (p *peer) join(room string) JoinedPayload {
	p.send(Message{Type: TypeJoin, Room: room})
	var jp JoinedPayload
	require.NoError(p.t, json.Unmarshal(p.expect(TypeJoined).Payload, &jp))
	require.NotEmpty(p.t, jp.PeerID)
	return jp
}

func peerInfo(t *testing.T, msg Message) PeerInfo {
	var pi PeerInfo
	require.NoError(t, json.Unmarshal(msg.Payload, &pi))
	return pi
}

func TestHub_JoinAndRelay(t *testing.T) {
	th := newTestHub(t, map[string][]string{room1: {"mentor", "mentee", "admin"}})

	mentor := th.connect(t, "mentor")
	mentorJP := mentor.join(room1)
	assert.Empty(t, mentorJP.Peers)
	assert.Equal(t, 1, th.hub.RoomCount())

	mentee := th.connect(t, "mentee")
	menteeJP := mentee.join(room1)
	assert.Equal(t, []PeerInfo{{PeerID: mentorJP.PeerID, UserID: "mentor"}}, menteeJP.Peers)
	joined := mentor.expect(TypePeerJoined)
	assert.Equal(t, PeerInfo{PeerID: menteeJP.PeerID, UserID: "mentee"}, peerInfo(t, joined))

	// no "to": goes to the other peer
	offer := json.RawMessage(`{"sdp":"v=0...","type":"offer"}`)
	mentee.send(Message{Type: TypeOffer, Room: room1, Payload: offer})
	got := mentor.expect(TypeOffer)
	assert.Equal(t, menteeJP.PeerID, got.From)
	assert.Equal(t, room1, got.Room)
	assert.JSONEq(t, string(offer), string(got.Payload))

	mentor.send(Message{Type: TypeAnswer, To: menteeJP.PeerID, Payload: json.RawMessage(`{"sdp":"v=0..."}`)})
	assert.Equal(t, mentorJP.PeerID, mentee.expect(TypeAnswer).From)

	for _, typ := range []MessageType{TypeICECandidate, TypeScreenShareStarted, TypeScreenShareStopped, TypeRenegotiate} {
		mentor.send(Message{Type: typ, Room: room1})
		mentee.expect(typ)
	}

	// errors
	mentor.send(Message{Type: TypeOffer, To: "nobody"})
	mentor.expectError(CodePeerNotFound)
	mentor.send(Message{Type: TypeOffer, Room: "other"})
	mentor.expectError(CodeNotInRoom)
	mentor.send(Message{Type: TypeJoin, Room: room1})
	mentor.expectError(CodeAlreadyInRoom)

	third := th.connect(t, "admin")
	third.send(Message{Type: TypeJoin, Room: room1})
	third.expectError(CodeRoomFull)

	// leave
	mentee.send(Message{Type: TypeLeave, Room: room1})
	left := mentor.expect(TypePeerLeft)
	assert.Equal(t, menteeJP.PeerID, peerInfo(t, left).PeerID)
	mentee.send(Message{Type: TypeLeave, Room: room1})
	mentee.expectError(CodeNotInRoom)

	third.join(room1)
	mentor.expect(TypePeerJoined)

	mentor.send(Message{Type: TypeLeave})
	third.expect(TypePeerLeft)
	third.send(Message{Type: TypeLeave})
	require.Eventually(t, func() bool { return th.hub.RoomCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_Authorization(t *testing.T) {
	th := newTestHub(t, map[string][]string{room1: {"mentor"}})
	p := th.connect(t, "stranger")

	p.send(Message{Type: TypeJoin, Room: room1})
	p.expectError(CodeUnauthorized)
	p.send(Message{Type: TypeJoin, Room: "broken"})
	p.expectError(CodeInternal)
	p.send(Message{Type: TypeJoin})
	p.expectError(CodeBadMessage)
	p.send(Message{Type: TypeOffer, Room: room1})
	p.expectError(CodeNotInRoom)
	assert.Zero(t, th.hub.RoomCount())
}

func TestHub_Messages(t *testing.T) {
	th := newTestHub(t, nil)
	p := th.connect(t, "mentor")

	p.send(Message{Type: TypePing, Payload: json.RawMessage(`{"ts":1}`)})
	pong := p.expect(TypePong)
	assert.JSONEq(t, `{"ts":1}`, string(pong.Payload))

	p.sendRaw("not json")
	p.expectError(CodeBadMessage)
	p.sendRaw(`{"room":"x"}`)
	p.expectError(CodeBadMessage)
	p.send(Message{Type: "dance"})
	p.expectError(CodeUnknownType)
}

func TestHub_Reconnect(t *testing.T) {
	th := newTestHub(t, map[string][]string{room1: {"mentor", "mentee"}})

	mentor := th.connect(t, "mentor")
	mentor.join(room1)
	stale := th.connect(t, "mentee")
	staleJP := stale.join(room1)
	mentor.expect(TypePeerJoined)

	fresh := th.connect(t, "mentee")
	freshJP := fresh.join(room1)
	assert.Len(t, freshJP.Peers, 1)
	assert.NotEqual(t, staleJP.PeerID, freshJP.PeerID)

	assert.Equal(t, staleJP.PeerID, peerInfo(t, mentor.expect(TypePeerLeft)).PeerID)
	assert.Equal(t, freshJP.PeerID, peerInfo(t, mentor.expect(TypePeerJoined)).PeerID)

	stale.expectError(CodeReplaced)
	_ = stale.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := stale.conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 1, th.hub.RoomCount())
}

func TestHub_Disconnect(t *testing.T) {
	th := newTestHub(t, map[string][]string{room1: {"mentor", "mentee"}})

	mentor := th.connect(t, "mentor")
	mentor.join(room1)
	mentee := th.connect(t, "mentee")
	menteeJP := mentee.join(room1)
	mentor.expect(TypePeerJoined)

	require.NoError(t, mentee.conn.Close())
	assert.Equal(t, menteeJP.PeerID, peerInfo(t, mentor.expect(TypePeerLeft)).PeerID)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.mentora.dev"})
	tests := []struct {
		origin, host string
		want         bool
	}{
		{"", "api.mentora.dev", true},
		{"https://app.mentora.dev", "api.mentora.dev", true},
		{"https://api.mentora.dev", "api.mentora.dev", true},
		{"https://evil.example", "api.mentora.dev", false},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://"+tc.host+"/api/signaling", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, check(r), tc.origin)
	}
	assert.True(t, originChecker([]string{"*"})(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestHub_Stopped(t *testing.T) {
	th := newTestHub(t, map[string][]string{room1: {"mentor"}})
	th.stop()
	require.Eventually(t, func() bool {
		select {
		case <-th.hub.done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	p := th.connect(t, "mentor")
	_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := p.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, ErrHubStopped, <-th.served)
}
