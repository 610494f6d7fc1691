package client

import (
	"log/slog"

	"github.com/confera/confera/internal/room"
	"github.com/confera/confera/internal/signaling"
)

// ServerError is a login-error or error event from the relay.
type ServerError struct {
	Login bool
	signaling.ErrorPayload
}

func (e ServerError) Error() string {
	return e.Message
}

// Handler routes incoming relay frames to typed channels.
type Handler struct {
	log        *slog.Logger
	incoming   <-chan *signaling.Frame
	Peers      chan []room.Participant
	PeerJoined chan signaling.PeerPayload
	PeerLeft   chan signaling.PeerPayload
	PeerIDs    chan []string
	Chat       chan signaling.ChatBroadcast
	Emoji      chan signaling.EmojiBroadcast
	Offers     chan signaling.UserConnectedPayload
	Answers    chan signaling.AnswerPayload
	RoomClosed chan signaling.RoomClosedPayload
	Errors     chan ServerError
	Done       chan struct{}
}

// NewHandler creates a handler reading from incoming, usually
// Relay.Incoming.
func NewHandler(log *slog.Logger, incoming <-chan *signaling.Frame) *Handler {
	return &Handler{
		log:        log,
		incoming:   incoming,
		Peers:      make(chan []room.Participant, 4),
		PeerJoined: make(chan signaling.PeerPayload, 32),
		PeerLeft:   make(chan signaling.PeerPayload, 32),
		PeerIDs:    make(chan []string, 32),
		Chat:       make(chan signaling.ChatBroadcast, 64),
		Emoji:      make(chan signaling.EmojiBroadcast, 64),
		Offers:     make(chan signaling.UserConnectedPayload, 32),
		Answers:    make(chan signaling.AnswerPayload, 32),
		RoomClosed: make(chan signaling.RoomClosedPayload, 1),
		Errors:     make(chan ServerError, 8),
		Done:       make(chan struct{}),
	}
}

// Start routes frames until the incoming channel closes, then closes Done.
func (h *Handler) Start() {
	defer close(h.Done)

	for frame := range h.incoming {
		switch frame.Type {
		case signaling.EventGetPeers:
			route(h, frame, h.Peers)
		case signaling.EventUserJoined:
			route(h, frame, h.PeerJoined)
		case signaling.EventUserDisconnected:
			route(h, frame, h.PeerLeft)
		case signaling.EventUpdatePeers:
			route(h, frame, h.PeerIDs)
		case signaling.EventMessage:
			route(h, frame, h.Chat)
		case signaling.EventNewEmoji:
			route(h, frame, h.Emoji)
		case signaling.EventUserConnected:
			route(h, frame, h.Offers)
		case signaling.EventAnswer:
			route(h, frame, h.Answers)
		case signaling.EventRoomClosed:
			route(h, frame, h.RoomClosed)
		case signaling.EventLoginError, signaling.EventError:
			h.handleError(frame)
		default:
			h.log.Debug("Ignoring unknown event", "type", frame.Type)
		}
	}
}

func route[T any](h *Handler, frame *signaling.Frame, ch chan T) {
	var v T
	if err := frame.Bind(&v); err != nil {
		h.log.Debug("Failed to parse payload", "type", frame.Type, "err", err)
		return
	}
	ch <- v
}

func (h *Handler) handleError(frame *signaling.Frame) {
	e := ServerError{Login: frame.Type == signaling.EventLoginError}
	if err := frame.Bind(&e.ErrorPayload); err != nil {
		e.Message = "Unknown error from server"
	}
	h.Errors <- e
}
