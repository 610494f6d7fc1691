package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/confera/confera/internal/auth"
	"github.com/confera/confera/internal/joinlink"
	"github.com/confera/confera/internal/room"
	"github.com/confera/confera/internal/session"
	"github.com/confera/confera/internal/signaling"
)

type fixture struct {
	srv    *httptest.Server
	rooms  *room.Registry
	tokens *auth.AdminTokens
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	hasher := auth.NewArgon2(auth.Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})
	rooms := room.NewRegistry(log, room.NumericIDGenerator{}, hasher, 0)
	hub := signaling.NewHub(log, rooms, session.NewTable())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	tokens := auth.NewAdminTokens("admin-secret", time.Minute)
	s := New(log, hub, rooms, joinlink.New("link-secret", "confera"), Options{
		Origins:        []string{"http://localhost:3000"},
		SendBufferSize: 16,
		DefaultCodec:   "json",
		Admin:          tokens,
	})
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &fixture{srv: srv, rooms: rooms, tokens: tokens}
}

func (f *fixture) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")

	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreate_Authenticate_Resolve_Private_Room(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	var gen GenerateRoomIDResponse
	req.Equal(http.StatusOK, f.post(t, "/api/generate-room-id", GenerateRoomIDRequest{EnableSecureRoom: true}, &gen))
	req.Regexp(`^\d{4}-\d{4}-\d{4}$`, gen.RoomID)
	req.True(gen.IsPrivateRoom)

	var created CreateRoomResponse
	status := f.post(t, "/api/create-room", CreateRoomRequest{RoomID: gen.RoomID, Password: "pw", EnableSecureRoom: true}, &created)
	req.Equal(http.StatusOK, status)
	req.NotEmpty(created.JoinLink)

	var auth AuthenticateResponse
	status = f.post(t, "/api/room/authenticate", AuthenticateRequest{RoomID: gen.RoomID, Password: "pw", SecureRoom: true}, &auth)
	req.Equal(http.StatusOK, status)
	req.True(auth.Success)
	req.Equal(created.JoinLink, auth.JoinLink)

	var resolved JoinWithLinkResponse
	status = f.post(t, "/api/join-with-link", JoinWithLinkRequest{JoinLink: created.JoinLink}, &resolved)
	req.Equal(http.StatusOK, status)
	req.Equal(gen.RoomID, resolved.RoomID)
	req.True(resolved.IsPrivateRoom)
}

func TestAPI_Error_Statuses(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.rooms.CreateRoom("1111-1111-1111", room.Private, "pw", "abcd"))

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"secure room without password", "/api/create-room", CreateRoomRequest{RoomID: "x", EnableSecureRoom: true}, http.StatusBadRequest, "invalid_request"},
		{"missing room id", "/api/create-room", CreateRoomRequest{}, http.StatusBadRequest, "invalid_request"},
		{"duplicate room", "/api/create-room", CreateRoomRequest{RoomID: "1111-1111-1111", Password: "x", EnableSecureRoom: true}, http.StatusConflict, "room_exists"},
		{"wrong password", "/api/room/authenticate", AuthenticateRequest{RoomID: "1111-1111-1111", Password: "nope", SecureRoom: true}, http.StatusUnauthorized, "wrong_credentials"},
		{"wrong namespace", "/api/room/authenticate", AuthenticateRequest{RoomID: "1111-1111-1111"}, http.StatusNotFound, "room_not_found"},
		{"unknown link", "/api/join-with-link", JoinWithLinkRequest{JoinLink: "ffff"}, http.StatusNotFound, "link_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out ErrorResponse
			require.Equal(t, tc.status, f.post(t, tc.path, tc.body, &out))
			require.False(t, out.Success)
			require.Equal(t, tc.code, out.Code)
			require.NotEmpty(t, out.Message)
		})
	}
}

func TestList_Rooms_Only_Public(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.rooms.CreateRoom("1111-1111-1111", room.Public, "", "a1"))
	req.NoError(f.rooms.CreateRoom("2222-2222-2222", room.Private, "pw", "b2"))

	resp, err := http.Get(f.srv.URL + "/api/rooms")
	req.NoError(err)
	defer resp.Body.Close()

	var out RoomsResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&out))
	req.Equal([]room.RoomInfo{{ID: "1111-1111-1111", Visibility: room.Public}}, out.Rooms)
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t)
	r, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/create-room", nil)
	require.NoError(t, err)
	r.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(r)

	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func (f *fixture) deleteRoom(t *testing.T, path, token string) int {
	t.Helper()
	r, err := http.NewRequest(http.MethodDelete, f.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestDelete_Room_Requires_Admin_Token(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.rooms.CreateRoom("1111-1111-1111", room.Public, "", "a1"))

	req.Equal(http.StatusUnauthorized, f.deleteRoom(t, "/api/rooms/public/1111-1111-1111", ""))
	req.Equal(http.StatusUnauthorized, f.deleteRoom(t, "/api/rooms/public/1111-1111-1111", "garbage"))

	token, err := f.tokens.Issue("ops")
	req.NoError(err)
	req.Equal(http.StatusBadRequest, f.deleteRoom(t, "/api/rooms/hidden/1111-1111-1111", token))
	req.Equal(http.StatusOK, f.deleteRoom(t, "/api/rooms/public/1111-1111-1111", token))
	req.Equal(http.StatusNotFound, f.deleteRoom(t, "/api/rooms/public/1111-1111-1111", token))
}

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(signaling.Message{Type: eventType, Payload: payload}))
}

func readEvent(t *testing.T, conn *websocket.Conn, eventType string, out any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, eventType, msg.Type, "payload: %s", msg.Payload)
	if out != nil {
		require.NoError(t, json.Unmarshal(msg.Payload, out))
	}
}

func TestWebsocket_Join_Chat_Offer_Accept(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.rooms.CreateRoom("1111-1111-1111", room.Public, "", "a1"))

	alice := dial(t, f)
	sendEvent(t, alice, signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: "1111-1111-1111", Username: "Alice"})
	var peers []room.Participant
	readEvent(t, alice, signaling.EventGetPeers, &peers)
	req.Empty(peers)

	bob := dial(t, f)
	sendEvent(t, bob, signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: "1111-1111-1111", Username: "Bob"})
	readEvent(t, bob, signaling.EventGetPeers, &peers)
	req.Len(peers, 1)
	req.Equal("Alice", peers[0].DisplayName)
	aliceID := peers[0].ConnectionID

	var joined signaling.PeerPayload
	readEvent(t, alice, signaling.EventUserJoined, &joined)
	req.Equal("Bob", joined.PeerName)
	bobID := joined.PeerID

	sendEvent(t, bob, signaling.EventChatMessage, signaling.ChatPayload{Text: "hello"})
	var chat signaling.ChatBroadcast
	readEvent(t, alice, signaling.EventMessage, &chat)
	req.Equal("hello", chat.Text)
	req.Equal(bobID, chat.UserID)

	sendEvent(t, bob, signaling.EventOffer, signaling.OfferPayload{UserToSignal: aliceID, Signal: map[string]string{"sdp": "offer"}})
	var offer signaling.UserConnectedPayload
	readEvent(t, alice, signaling.EventUserConnected, &offer)
	req.Equal(bobID, offer.CallerID)

	sendEvent(t, alice, signaling.EventAccept, signaling.AcceptPayload{CallerID: bobID, Signal: map[string]string{"sdp": "answer"}})
	var answer signaling.AnswerPayload
	readEvent(t, bob, signaling.EventAnswer, &answer)
	req.Equal(aliceID, answer.CallerID)

	// Bob leaves; Alice sees the shrunken list and the leave notice
	req.NoError(bob.Close())
	var ids []string
	readEvent(t, alice, signaling.EventUpdatePeers, &ids)
	req.Equal([]string{aliceID}, ids)
	var left signaling.PeerPayload
	readEvent(t, alice, signaling.EventUserDisconnected, &left)
	req.Equal(bobID, left.PeerID)
}

func TestWebsocket_Msgpack_Codec(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.rooms.CreateRoom("1111-1111-1111", room.Public, "", "a1"))

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?codec=msgpack"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	defer conn.Close()

	codec := signaling.MsgpackCodec{}
	data, err := codec.Encode(&signaling.Message{Type: signaling.EventJoinRoom, Payload: signaling.JoinRoomPayload{RoomID: "1111-1111-1111"}})
	req.NoError(err)
	req.NoError(conn.WriteMessage(websocket.BinaryMessage, data))

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	kind, reply, err := conn.ReadMessage()
	req.NoError(err)
	req.Equal(websocket.BinaryMessage, kind)
	frame, err := codec.Decode(reply)
	req.NoError(err)
	req.Equal(signaling.EventGetPeers, frame.Type)

	// The first joiner of an empty room still gets a peer list, just an empty one
	var peers []room.Participant
	req.NoError(frame.Bind(&peers))
	req.Empty(peers)
}

func TestWebsocket_Msgpack_Second_Joiner_Sees_First(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.rooms.CreateRoom("1111-1111-1111", room.Public, "", "a1"))
	codec := signaling.MsgpackCodec{}
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?codec=msgpack"

	joinAs := func(name string) (*websocket.Conn, []room.Participant) {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		req.NoError(err)
		t.Cleanup(func() { conn.Close() })

		data, err := codec.Encode(&signaling.Message{Type: signaling.EventJoinRoom, Payload: signaling.JoinRoomPayload{RoomID: "1111-1111-1111", Username: name}})
		req.NoError(err)
		req.NoError(conn.WriteMessage(websocket.BinaryMessage, data))

		req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
		_, reply, err := conn.ReadMessage()
		req.NoError(err)
		frame, err := codec.Decode(reply)
		req.NoError(err)
		req.Equal(signaling.EventGetPeers, frame.Type)
		var peers []room.Participant
		req.NoError(frame.Bind(&peers))
		return conn, peers
	}

	_, peers := joinAs("Alice")
	req.Empty(peers)

	_, peers = joinAs("Bob")
	req.Len(peers, 1)
	req.Equal("Alice", peers[0].DisplayName)
}

func TestWebsocket_Rejects_Unknown_Codec(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?codec=xml"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
