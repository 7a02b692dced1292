package echoapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roxnlabs/mentora/services/signaling"
)

func Test_signalingAPI(t *testing.T) {
	f := setupSessions(t)
	r := f.book(t)
	rec := f.serve(httpTest{method: http.MethodPost, path: "/api/sessions/" + r.ID + "/accept", token: getToken(t, f.conf, f.mentor)})
	require.Equal(t, http.StatusOK, rec.Code)

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/signaling"

	dial := func(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
		if conn != nil {
			t.Cleanup(func() { _ = conn.Close() })
		}
		return conn, resp, err
	}
	read := func(t *testing.T, conn *websocket.Conn) signaling.Message {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg signaling.Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	t.Run("token required", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("outsider refused", func(t *testing.T) {
		conn, _, err := dial(t, getToken(t, f.conf, f.other))
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(signaling.Message{Type: signaling.TypeJoin, Room: r.ID}))

		msg := read(t, conn)
		assert.Equal(t, signaling.TypeError, msg.Type)
		var payload signaling.ErrorPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, signaling.CodeUnauthorized, payload.Code)
	})

	t.Run("participants meet", func(t *testing.T) {
		mentor, _, err := dial(t, getToken(t, f.conf, f.mentor))
		require.NoError(t, err)
		require.NoError(t, mentor.WriteJSON(signaling.Message{Type: signaling.TypeJoin, Room: r.ID}))
		assert.Equal(t, signaling.TypeJoined, read(t, mentor).Type)

		mentee, _, err := dial(t, getToken(t, f.conf, f.mentee))
		require.NoError(t, err)
		require.NoError(t, mentee.WriteJSON(signaling.Message{Type: signaling.TypeJoin, Room: r.ID}))

		joined := read(t, mentee)
		require.Equal(t, signaling.TypeJoined, joined.Type)
		var payload signaling.JoinedPayload
		require.NoError(t, json.Unmarshal(joined.Payload, &payload))
		require.Len(t, payload.Peers, 1)
		assert.Equal(t, f.mentor.ID, payload.Peers[0].UserID)
		assert.Equal(t, signaling.TypePeerJoined, read(t, mentor).Type)

		require.NoError(t, mentee.WriteJSON(signaling.Message{Type: signaling.TypeOffer, Payload: json.RawMessage(`{"sdp":"v=0"}`)}))
		offer := read(t, mentor)
		assert.Equal(t, signaling.TypeOffer, offer.Type)
		assert.Equal(t, payload.PeerID, offer.From)
		assert.JSONEq(t, `{"sdp":"v=0"}`, string(offer.Payload))

		status := f.serve(httpTest{method: http.MethodGet, path: "/status"})
		assert.Contains(t, status.Body.String(), `"rooms":1`)
	})
}
