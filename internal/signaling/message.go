package signaling

import "time"

// Message is an outbound event. Payload is encoded by the connection's codec.
type Message struct {
	Type    string `json:"type" msgpack:"type"`
	Payload any    `json:"payload" msgpack:"payload"`
}

// Client to server events.
const (
	EventJoinRoom    = "join-room"
	EventChatMessage = "chatMessage"
	EventEmoji       = "emoji"
	EventOffer       = "offer"
	EventAccept      = "accept"
)

// Server to client events.
const (
	EventGetPeers         = "get-peers"
	EventUserJoined       = "user-joined"
	EventLoginError       = "login-error"
	EventMessage          = "message"
	EventNewEmoji         = "new-emoji"
	EventUserConnected    = "user-connected"
	EventAnswer           = "answer"
	EventUpdatePeers      = "update-peers"
	EventUserDisconnected = "user-disconnected"
	EventRoomClosed       = "room-closed"
	EventError            = "error"
)

type JoinRoomPayload struct {
	RoomID     string `json:"roomId" validate:"required,max=64"`
	Username   string `json:"username" validate:"max=64"`
	Password   string `json:"password,omitempty" validate:"max=256"`
	SecureRoom bool   `json:"secureRoom"`
}

type ChatPayload struct {
	Text string `json:"text" validate:"required,max=4096"`
}

type EmojiPayload struct {
	Emoji string `json:"emoji" validate:"required,max=64"`
}

// OfferPayload carries an SDP offer for one target connection. CallerID
// is advisory; the relay stamps the sender's real id.
type OfferPayload struct {
	UserToSignal string `json:"userToSignal" validate:"required"`
	Signal       any    `json:"signal" validate:"required"`
	CallerID     string `json:"callerID,omitempty"`
	Username     string `json:"username,omitempty"`
}

type AcceptPayload struct {
	CallerID string `json:"callerID" validate:"required"`
	Signal   any    `json:"signal" validate:"required"`
}

// PeerPayload names a peer that joined or left.
type PeerPayload struct {
	PeerID   string `json:"peerId"`
	PeerName string `json:"peerName"`
}

type ChatBroadcast struct {
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Time     string    `json:"time"`
	SentAt   time.Time `json:"sentAt"`
	UserID   string    `json:"userId"`
}

type EmojiBroadcast struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Emoji    string `json:"emoji"`
}

type UserConnectedPayload struct {
	Signal   any    `json:"signal"`
	CallerID string `json:"callerID"`
	PeerName string `json:"peerName"`
}

type AnswerPayload struct {
	Signal   any    `json:"signal"`
	CallerID string `json:"callerID"`
}

type RoomClosedPayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload is sent for login-error and error events.
type ErrorPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}
