package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/confera/confera/internal/room"
	"github.com/confera/confera/internal/server"
)

// APIError is a failed request/response call, carrying the server's
// error code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return e.Message
}

// API talks to the relay's request/response endpoints.
type API struct {
	base string
	http *http.Client
}

func NewAPI(cfg *Config) *API {
	return &API{
		base: cfg.Server,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *API) GenerateRoomID(ctx context.Context, secure bool) (*server.GenerateRoomIDResponse, error) {
	var out server.GenerateRoomIDResponse
	err := a.do(ctx, http.MethodPost, "/api/generate-room-id", "", server.GenerateRoomIDRequest{EnableSecureRoom: secure}, &out)
	return &out, err
}

func (a *API) CreateRoom(ctx context.Context, req server.CreateRoomRequest) (*server.CreateRoomResponse, error) {
	var out server.CreateRoomResponse
	err := a.do(ctx, http.MethodPost, "/api/create-room", "", req, &out)
	return &out, err
}

func (a *API) Authenticate(ctx context.Context, req server.AuthenticateRequest) (*server.AuthenticateResponse, error) {
	var out server.AuthenticateResponse
	err := a.do(ctx, http.MethodPost, "/api/room/authenticate", "", req, &out)
	return &out, err
}

func (a *API) JoinWithLink(ctx context.Context, link string) (*server.JoinWithLinkResponse, error) {
	var out server.JoinWithLinkResponse
	err := a.do(ctx, http.MethodPost, "/api/join-with-link", "", server.JoinWithLinkRequest{JoinLink: link}, &out)
	return &out, err
}

func (a *API) Rooms(ctx context.Context) ([]room.RoomInfo, error) {
	var out server.RoomsResponse
	if err := a.do(ctx, http.MethodGet, "/api/rooms", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

// DeleteRoom closes a room through the admin API.
func (a *API) DeleteRoom(ctx context.Context, token string, visibility room.Visibility, roomID string) (*server.DeleteRoomResponse, error) {
	var out server.DeleteRoomResponse
	path := "/api/rooms/" + visibility.String() + "/" + url.PathEscape(roomID)
	err := a.do(ctx, http.MethodDelete, path, token, nil, &out)
	return &out, err
}

func (a *API) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e server.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			apiErr.Code, apiErr.Message = e.Code, e.Message
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
