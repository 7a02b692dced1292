package signaling

import "encoding/json"

type MessageType string

const (
	TypeJoin               MessageType = "join"
	TypeJoined             MessageType = "joined"
	TypePeerJoined         MessageType = "peer-joined"
	TypePeerLeft           MessageType = "peer-left"
	TypeOffer              MessageType = "offer"
	TypeAnswer             MessageType = "answer"
	TypeICECandidate       MessageType = "ice-candidate"
	TypeScreenShareStarted MessageType = "screen-share-started"
	TypeScreenShareStopped MessageType = "screen-share-stopped"
	TypeRenegotiate        MessageType = "renegotiate"
	TypeLeave              MessageType = "leave"
	TypeError              MessageType = "error"
	TypePing               MessageType = "ping"
	TypePong               MessageType = "pong"
)

// error codes
const (
	CodeBadMessage    = "bad_message"
	CodeUnknownType   = "unknown_type"
	CodeUnauthorized  = "unauthorized"
	CodeRoomFull      = "room_full"
	CodeNotInRoom     = "not_in_room"
	CodeAlreadyInRoom = "already_in_room"
	CodePeerNotFound  = "peer_not_found"
	CodeReplaced      = "replaced"
	CodeInternal      = "internal_error"
)

// Message is the envelope of everything going through the socket.
// Payloads of relayed messages (SDP, ICE candidates) are passed through untouched.
type Message struct {
	Type    MessageType     `json:"type"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type (
	PeerInfo struct {
		PeerID string `json:"peer_id"`
		UserID string `json:"user_id"`
	}

	// JoinedPayload tells a peer its ID and who is already in the room.
	JoinedPayload struct {
		PeerID string     `json:"peer_id"`
		Peers  []PeerInfo `json:"peers"`
	}

	ErrorPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

var relayed = map[MessageType]bool{
	TypeOffer:              true,
	TypeAnswer:             true,
	TypeICECandidate:       true,
	TypeRenegotiate:        true,
	TypeScreenShareStarted: true,
	TypeScreenShareStopped: true,
}

func newMessage(typ MessageType, room string, payload interface{}) Message {
	msg := Message{Type: typ, Room: room}
	if payload != nil {
		msg.Payload, _ = json.Marshal(payload)
	}
	return msg
}

func errorMessage(room, code, text string) Message {
	return newMessage(TypeError, room, ErrorPayload{Code: code, Message: text})
}
