package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/confera/confera/internal/auth"
	"github.com/confera/confera/internal/joinlink"
	"github.com/confera/confera/internal/room"
	"github.com/confera/confera/internal/signaling"
)

const maxBodySize = 64 * 1024

const (
	codeInvalidRequest = "invalid_request"
	codeUnauthorized   = "unauthorized"
)

var errUnauthorized = errors.New("missing or invalid admin token")

// Options configure a Server.
type Options struct {
	// Origins allowed for CORS and websocket upgrades. "*" allows any.
	Origins        []string
	SendBufferSize int
	DefaultCodec   string
	// Admin enables the room admin API when non-nil.
	Admin *auth.AdminTokens
}

// Server exposes the request/response API and the relay websocket.
type Server struct {
	log      *slog.Logger
	hub      *signaling.Hub
	rooms    *room.Registry
	links    *joinlink.Codec
	validate *validator.Validate
	upgrader websocket.Upgrader
	opts     Options
}

func New(log *slog.Logger, hub *signaling.Hub, rooms *room.Registry, links *joinlink.Codec, opts Options) *Server {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	s := &Server{
		log:      log,
		hub:      hub,
		rooms:    rooms,
		links:    links,
		validate: validator.New(),
		opts:     opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Routes returns the HTTP handler for the whole service.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.HandleFunc("GET /ws", s.ServeWs)
	mux.HandleFunc("POST /api/generate-room-id", s.generateRoomID)
	mux.HandleFunc("POST /api/create-room", s.createRoom)
	mux.HandleFunc("POST /api/room/authenticate", s.authenticateRoom)
	mux.HandleFunc("POST /api/join-with-link", s.joinWithLink)
	mux.HandleFunc("GET /api/rooms", s.listRooms)
	if s.opts.Admin != nil {
		mux.HandleFunc("DELETE /api/rooms/{visibility}/{roomId}", s.deleteRoom)
	}
	return s.cors(mux)
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Confera API is running..."))
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.opts.Origins, "*") || slices.Contains(s.opts.Origins, origin)
}

// checkOrigin accepts same-origin and non-browser clients (no Origin
// header) plus the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.originAllowed(origin) || strings.HasSuffix(origin, "://"+r.Host)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeWs upgrades the request and hands the connection to the hub.
// The wire codec is chosen with ?codec=json|msgpack.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("codec")
	if name == "" {
		name = s.opts.DefaultCodec
	}
	codec, err := signaling.CodecByName(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade connection", "err", err)
		return
	}

	client := signaling.NewClient(s.hub, conn, codec, s.opts.SendBufferSize)
	if err := s.hub.Register(client); err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) generateRoomID(w http.ResponseWriter, r *http.Request) {
	var req GenerateRoomIDRequest
	if !s.decode(w, r, &req) {
		return
	}
	visibility := room.VisibilityFromSecure(req.EnableSecureRoom)
	id, err := s.rooms.GenerateUniqueID(visibility)
	if err != nil {
		s.log.Error("Room id generation failed", "visibility", visibility, "err", err)
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateRoomIDResponse{RoomID: id, IsPrivateRoom: req.EnableSecureRoom})
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if !s.decode(w, r, &req) {
		return
	}
	visibility := room.VisibilityFromSecure(req.EnableSecureRoom)
	password := ""
	if visibility == room.Private {
		password = req.Password
	}

	link, err := s.links.Encode(req.RoomID, password)
	if err != nil {
		s.log.Error("Join link encoding failed", "room", req.RoomID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	if err := s.rooms.CreateRoom(req.RoomID, visibility, password, link); err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreateRoomResponse{RoomID: req.RoomID, JoinLink: link, IsPrivateRoom: req.EnableSecureRoom})
}

func (s *Server) authenticateRoom(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if !s.decode(w, r, &req) {
		return
	}
	link, err := s.rooms.Authenticate(req.RoomID, room.VisibilityFromSecure(req.SecureRoom), req.Password)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthenticateResponse{Success: true, JoinLink: link, Message: "Authenticated Successfully"})
}

func (s *Server) joinWithLink(w http.ResponseWriter, r *http.Request) {
	var req JoinWithLinkRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, visibility, err := s.rooms.ResolveByJoinLink(req.JoinLink)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinWithLinkResponse{
		Success:       true,
		RoomID:        id,
		JoinLink:      req.JoinLink,
		IsPrivateRoom: visibility == room.Private,
		Message:       "Authenticated Successfully",
	})
}

// listRooms only lists public rooms; private ids stay unlisted.
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RoomsResponse{Rooms: s.rooms.List(room.Public)})
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, errUnauthorized)
		return
	}
	claims, err := s.opts.Admin.Validate(token)
	if err != nil {
		s.log.Warn("Admin token rejected", "err", err)
		writeError(w, http.StatusUnauthorized, codeUnauthorized, errUnauthorized)
		return
	}

	visibility, err := room.ParseVisibility(r.PathValue("visibility"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err)
		return
	}
	roomID := r.PathValue("roomId")
	members, err := s.hub.CloseRoom(r.Context(), roomID, visibility)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	s.log.Info("Room closed by admin", "room", roomID, "visibility", visibility, "admin", claims.Subject)
	writeJSON(w, http.StatusOK, DeleteRoomResponse{Success: true, RoomID: roomID, RemovedParticipants: len(members)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrLinkNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrWrongCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, room.ErrRoomExists), errors.Is(err, room.ErrLinkExists), errors.Is(err, room.ErrAlreadyJoined):
		return http.StatusConflict
	case errors.Is(err, room.ErrGenerationExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeRoomError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), room.Code(err), err)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
