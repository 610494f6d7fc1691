package signaling

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/confera/confera/internal/room"
	"github.com/confera/confera/internal/session"
)

var (
	ErrHubStopped   = errors.New("hub stopped")
	ErrNotJoined    = errors.New("you must join a room first")
	ErrPeerNotFound = errors.New("peer is not in your room")
	ErrUnknownEvent = errors.New("unknown event type")
)

// Error codes carried in error and login-error payloads, in addition to
// the registry codes from room.Code.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidMessage = "invalid_message"
	CodeUnknownEvent   = "unknown_event"
	CodeNotJoined      = "not_joined"
	CodePeerNotFound   = "peer_not_found"
	CodeAlreadyJoined  = "already_joined"
)

type inbound struct {
	client *Client
	frame  *Frame
	err    error
}

// joinResult carries a credential check back to the hub goroutine.
type joinResult struct {
	client     *Client
	roomID     string
	visibility room.Visibility
	name       string
	pass       room.Pass
	err        error
}

type closeRequest struct {
	roomID     string
	visibility room.Visibility
	reply      chan closeResult
}

type closeResult struct {
	participants []room.Participant
	err          error
}

// Hub is the relay's event loop. Every connection event is handled to
// completion on the Run goroutine, so membership changes and broadcasts
// for a room happen in the order they were received. Private room
// password checks are the exception: they run on their own goroutine and
// the membership change is applied when the result comes back.
type Hub struct {
	log      *slog.Logger
	rooms    *room.Registry
	sessions *session.Table
	validate *validator.Validate
	now      func() time.Time

	// clients is owned by the Run goroutine.
	clients map[string]*Client
	// dropped collects clients whose send buffer overflowed during the
	// current event; they are disconnected once the event completes.
	dropped []*Client
	// verifying holds connections whose join is waiting on a password
	// check. Owned by the Run goroutine.
	verifying map[string]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	verified   chan joinResult
	closeRoom  chan closeRequest
	done       chan struct{}
}

func NewHub(log *slog.Logger, rooms *room.Registry, sessions *session.Table) *Hub {
	return &Hub{
		log:        log,
		rooms:      rooms,
		sessions:   sessions,
		validate:   validator.New(),
		now:        time.Now,
		clients:    make(map[string]*Client),
		verifying:  make(map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		verified:   make(chan joinResult),
		closeRoom:  make(chan closeRequest),
		done:       make(chan struct{}),
	}
}

// Register hands a new connection to the hub. It must be called before
// the connection's pumps start.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch queues a decoded frame (or the error from decoding it).
func (h *Hub) Dispatch(c *Client, frame *Frame, err error) {
	select {
	case h.inbound <- inbound{client: c, frame: frame, err: err}:
	case <-h.done:
	}
}

// CloseRoom deletes a room and notifies its members. The session updates
// run on the hub goroutine.
func (h *Hub) CloseRoom(ctx context.Context, roomID string, visibility room.Visibility) ([]room.Participant, error) {
	req := closeRequest{roomID: roomID, visibility: visibility, reply: make(chan closeResult, 1)}
	select {
	case h.closeRoom <- req:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.participants, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.clients[client.ID] = client
			h.sessions.Register(client.ID)
			h.log.Info("Client registered", client.logAttrs()...)

		case client := <-h.unregister:
			h.log.Info("Client unregistered", client.logAttrs()...)
			h.disconnect(client)

		case in := <-h.inbound:
			h.handle(in)

		case res := <-h.verified:
			h.admit(res)

		case req := <-h.closeRoom:
			participants, err := h.closeRoomMembers(req.roomID, req.visibility)
			req.reply <- closeResult{participants: participants, err: err}
		}

		h.flushDropped()
	}
}

func (h *Hub) shutdown() {
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.log.Info("Hub stopped")
}

func (h *Hub) handle(in inbound) {
	c := in.client
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	if in.err != nil {
		h.log.Debug("Malformed frame", "conn", c.ID, "err", in.err)
		h.sendError(c, CodeInvalidMessage, in.err.Error())
		return
	}

	h.log.Debug("Event received", "type", in.frame.Type, "conn", c.ID)

	switch in.frame.Type {
	case EventJoinRoom:
		h.handleJoin(c, in.frame)
	case EventChatMessage:
		h.handleChat(c, in.frame)
	case EventEmoji:
		h.handleEmoji(c, in.frame)
	case EventOffer:
		h.handleOffer(c, in.frame)
	case EventAccept:
		h.handleAccept(c, in.frame)
	default:
		h.log.Debug("Unknown event type", "type", in.frame.Type, "conn", c.ID)
		h.sendError(c, CodeUnknownEvent, ErrUnknownEvent.Error()+": "+in.frame.Type)
	}
}

func (h *Hub) bind(frame *Frame, v any) error {
	if err := frame.Bind(v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

func (h *Hub) handleJoin(c *Client, frame *Frame) {
	var p JoinRoomPayload
	if err := h.bind(frame, &p); err != nil {
		h.loginError(c, CodeInvalidRequest, err.Error())
		return
	}

	sess, ok := h.sessions.Get(c.ID)
	if !ok {
		return
	}
	if sess.Joined || h.verifying[c.ID] {
		h.loginError(c, CodeAlreadyJoined, room.ErrAlreadyJoined.Error())
		return
	}

	name := strings.TrimSpace(p.Username)
	if name == "" {
		name = room.DefaultDisplayName
	}
	_ = h.sessions.SetDisplayName(c.ID, name)

	res := joinResult{client: c, roomID: p.RoomID, visibility: room.VisibilityFromSecure(p.SecureRoom), name: name}
	if res.visibility == room.Private {
		h.verifying[c.ID] = true
		go h.verify(res, p.Password)
		return
	}
	res.pass, res.err = h.rooms.Verify(res.roomID, res.visibility, "")
	h.admit(res)
}

// verify runs the password hash off the event loop and hands the result
// back to Run.
func (h *Hub) verify(res joinResult, password string) {
	res.pass, res.err = h.rooms.Verify(res.roomID, res.visibility, password)
	select {
	case h.verified <- res:
	case <-h.done:
	}
}

func (h *Hub) admit(res joinResult) {
	c := res.client
	delete(h.verifying, c.ID)
	if _, ok := h.clients[c.ID]; !ok {
		return
	}

	var snap room.Snapshot
	err := res.err
	if err == nil {
		snap, err = h.rooms.Admit(res.pass, c.ID, res.name)
	}
	if err != nil {
		h.log.Info("Join rejected", "conn", c.ID, "room", res.roomID, "err", err)
		h.loginError(c, room.Code(err), err.Error())
		return
	}
	if err := h.sessions.MarkJoined(c.ID, snap.RoomID, res.visibility); err != nil {
		h.rooms.RemoveParticipant(snap.RoomID, res.visibility, c.ID)
		h.loginError(c, CodeAlreadyJoined, err.Error())
		return
	}

	h.log.Info("Client joined room", "conn", c.ID, "room", snap.RoomID, "visibility", res.visibility, "participants", len(snap.Participants))

	peers := lo.UniqBy(
		lo.Filter(snap.Participants, func(p room.Participant, _ int) bool { return p.ConnectionID != c.ID }),
		func(p room.Participant) string { return p.ConnectionID },
	)
	h.deliver(c.ID, &Message{Type: EventGetPeers, Payload: peers})
	h.deliverAll(snap.Participants, c.ID, &Message{
		Type:    EventUserJoined,
		Payload: PeerPayload{PeerID: c.ID, PeerName: res.name},
	})
}

// joinedMembers returns the sender's session and the room's current
// members, or reports not_joined to the sender.
func (h *Hub) joinedMembers(c *Client) (session.Session, []room.Participant, bool) {
	sess, ok := h.sessions.Get(c.ID)
	if !ok || !sess.Joined {
		h.sendError(c, CodeNotJoined, ErrNotJoined.Error())
		return sess, nil, false
	}
	members, err := h.rooms.Participants(sess.RoomID, sess.Visibility)
	if err != nil {
		h.sendError(c, room.Code(err), err.Error())
		return sess, nil, false
	}
	return sess, members, true
}

func (h *Hub) handleChat(c *Client, frame *Frame) {
	var p ChatPayload
	if err := h.bind(frame, &p); err != nil {
		h.sendError(c, CodeInvalidRequest, err.Error())
		return
	}
	sess, members, ok := h.joinedMembers(c)
	if !ok {
		return
	}

	now := h.now()
	h.deliverAll(members, c.ID, &Message{
		Type: EventMessage,
		Payload: ChatBroadcast{
			Username: sess.Name(),
			Text:     p.Text,
			Time:     now.Format(time.Kitchen),
			SentAt:   now.UTC(),
			UserID:   c.ID,
		},
	})
}

func (h *Hub) handleEmoji(c *Client, frame *Frame) {
	var p EmojiPayload
	if err := h.bind(frame, &p); err != nil {
		h.sendError(c, CodeInvalidRequest, err.Error())
		return
	}
	sess, members, ok := h.joinedMembers(c)
	if !ok {
		return
	}

	h.deliverAll(members, c.ID, &Message{
		Type:    EventNewEmoji,
		Payload: EmojiBroadcast{UserID: c.ID, Username: sess.Name(), Emoji: p.Emoji},
	})
}

// sameRoom reports whether target is bound to the sender's room.
func (h *Hub) sameRoom(sender session.Session, targetID string) bool {
	target, ok := h.sessions.Get(targetID)
	return ok && target.Joined &&
		target.RoomID == sender.RoomID &&
		target.Visibility == sender.Visibility
}

func (h *Hub) handleOffer(c *Client, frame *Frame) {
	var p OfferPayload
	if err := h.bind(frame, &p); err != nil {
		h.sendError(c, CodeInvalidRequest, err.Error())
		return
	}
	sess, ok := h.sessions.Get(c.ID)
	if !ok || !sess.Joined {
		h.sendError(c, CodeNotJoined, ErrNotJoined.Error())
		return
	}
	if !h.sameRoom(sess, p.UserToSignal) {
		h.sendError(c, CodePeerNotFound, ErrPeerNotFound.Error())
		return
	}
	if p.CallerID != "" && p.CallerID != c.ID {
		h.log.Debug("Offer caller id overridden", "conn", c.ID, "claimed", p.CallerID)
	}

	h.log.Debug("Relaying offer", "conn", c.ID, "target", p.UserToSignal, "room", sess.RoomID)
	h.deliver(p.UserToSignal, &Message{
		Type:    EventUserConnected,
		Payload: UserConnectedPayload{Signal: p.Signal, CallerID: c.ID, PeerName: sess.Name()},
	})
}

func (h *Hub) handleAccept(c *Client, frame *Frame) {
	var p AcceptPayload
	if err := h.bind(frame, &p); err != nil {
		h.sendError(c, CodeInvalidRequest, err.Error())
		return
	}
	sess, ok := h.sessions.Get(c.ID)
	if !ok || !sess.Joined {
		h.sendError(c, CodeNotJoined, ErrNotJoined.Error())
		return
	}
	if !h.sameRoom(sess, p.CallerID) {
		h.sendError(c, CodePeerNotFound, ErrPeerNotFound.Error())
		return
	}

	h.log.Debug("Relaying answer", "conn", c.ID, "target", p.CallerID, "room", sess.RoomID)
	h.deliver(p.CallerID, &Message{
		Type:    EventAnswer,
		Payload: AnswerPayload{Signal: p.Signal, CallerID: c.ID},
	})
}

// disconnect tears down a connection. Missing sessions or rooms are a
// no-op since cleanup may race with shutdown.
func (h *Hub) disconnect(c *Client) {
	delete(h.verifying, c.ID)
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}

	sess, ok := h.sessions.Remove(c.ID)
	if !ok || !sess.Joined {
		return
	}

	remaining := h.rooms.RemoveParticipant(sess.RoomID, sess.Visibility, c.ID)
	h.log.Info("Client left room", "conn", c.ID, "room", sess.RoomID, "remaining", len(remaining))

	ids := lo.Map(remaining, func(p room.Participant, _ int) string { return p.ConnectionID })
	h.deliverAll(remaining, "", &Message{Type: EventUpdatePeers, Payload: ids})
	h.deliverAll(remaining, "", &Message{
		Type:    EventUserDisconnected,
		Payload: PeerPayload{PeerID: c.ID, PeerName: sess.Name()},
	})
}

func (h *Hub) closeRoomMembers(roomID string, visibility room.Visibility) ([]room.Participant, error) {
	members, err := h.rooms.DeleteRoom(roomID, visibility)
	if err != nil {
		return nil, err
	}
	for _, p := range members {
		h.sessions.Release(p.ConnectionID)
		h.deliver(p.ConnectionID, &Message{Type: EventRoomClosed, Payload: RoomClosedPayload{RoomID: roomID}})
	}
	return members, nil
}

// deliver queues msg for one connection. A full buffer marks the client
// as dropped instead of blocking the hub.
func (h *Hub) deliver(id string, msg *Message) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.log.Warn("Send buffer full, dropping client", "conn", id, "type", msg.Type)
		delete(h.clients, id)
		close(c.send)
		h.dropped = append(h.dropped, c)
	}
}

func (h *Hub) deliverAll(members []room.Participant, except string, msg *Message) {
	for _, p := range members {
		if p.ConnectionID == except {
			continue
		}
		h.deliver(p.ConnectionID, msg)
	}
}

func (h *Hub) flushDropped() {
	for len(h.dropped) > 0 {
		c := h.dropped[0]
		h.dropped = h.dropped[1:]
		h.disconnect(c)
	}
}

func (h *Hub) loginError(c *Client, code, message string) {
	h.deliver(c.ID, &Message{Type: EventLoginError, Payload: ErrorPayload{Message: message, Code: code}})
}

func (h *Hub) sendError(c *Client, code, message string) {
	h.deliver(c.ID, &Message{Type: EventError, Payload: ErrorPayload{Message: message, Code: code}})
}
