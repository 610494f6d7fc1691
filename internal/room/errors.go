package room

import "errors"

var (
	ErrRoomExists          = errors.New("room already exists")
	ErrRoomNotFound        = errors.New("room doesn't exist")
	ErrWrongCredentials    = errors.New("incorrect credentials")
	ErrAlreadyJoined       = errors.New("user is already added to the room")
	ErrLinkNotFound        = errors.New("room doesn't exist or the join link has expired")
	ErrLinkExists          = errors.New("join link already in use")
	ErrGenerationExhausted = errors.New("could not generate a unique room id")
)

// Code returns the stable wire identifier for a registry error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrRoomExists):
		return "room_exists"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrWrongCredentials):
		return "wrong_credentials"
	case errors.Is(err, ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, ErrLinkNotFound):
		return "link_not_found"
	case errors.Is(err, ErrLinkExists):
		return "link_exists"
	case errors.Is(err, ErrGenerationExhausted):
		return "generation_exhausted"
	}
	return "internal"
}
