package server

import "github.com/confera/confera/internal/room"

type GenerateRoomIDRequest struct {
	EnableSecureRoom bool `json:"enableSecureRoom"`
}

type GenerateRoomIDResponse struct {
	RoomID        string `json:"roomId"`
	IsPrivateRoom bool   `json:"isPrivateRoom"`
}

type CreateRoomRequest struct {
	RoomID           string `json:"roomId" validate:"required,max=64"`
	Password         string `json:"password,omitempty" validate:"required_if=EnableSecureRoom true,max=256"`
	EnableSecureRoom bool   `json:"enableSecureRoom"`
}

type CreateRoomResponse struct {
	RoomID        string `json:"roomId"`
	JoinLink      string `json:"joinLink"`
	IsPrivateRoom bool   `json:"isPrivateRoom"`
}

type AuthenticateRequest struct {
	RoomID     string `json:"roomId" validate:"required,max=64"`
	Password   string `json:"password,omitempty" validate:"max=256"`
	SecureRoom bool   `json:"secureRoom"`
}

type AuthenticateResponse struct {
	Success  bool   `json:"success"`
	JoinLink string `json:"joinLink,omitempty"`
	Message  string `json:"message"`
}

type JoinWithLinkRequest struct {
	JoinLink string `json:"joinLink" validate:"required,max=512"`
}

type JoinWithLinkResponse struct {
	Success       bool   `json:"success"`
	RoomID        string `json:"roomId,omitempty"`
	JoinLink      string `json:"joinLink,omitempty"`
	IsPrivateRoom bool   `json:"isPrivateRoom"`
	Message       string `json:"message"`
}

type RoomsResponse struct {
	Rooms []room.RoomInfo `json:"rooms"`
}

type DeleteRoomResponse struct {
	Success             bool   `json:"success"`
	RoomID              string `json:"roomId"`
	RemovedParticipants int    `json:"removedParticipants"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}
