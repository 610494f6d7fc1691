package room

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultDisplayName is used when a participant joins without a name.
const DefaultDisplayName = "Anonymous"

// Visibility selects one of the two room namespaces.
type Visibility int

const (
	Public Visibility = iota
	Private
)

func (v Visibility) String() string {
	if v == Private {
		return "private"
	}
	return "public"
}

// VisibilityFromSecure maps the wire-level secureRoom flag to a namespace.
func VisibilityFromSecure(secure bool) Visibility {
	if secure {
		return Private
	}
	return Public
}

// ParseVisibility accepts "public" or "private" (case-insensitive).
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToLower(s) {
	case "public":
		return Public, nil
	case "private", "secure":
		return Private, nil
	}
	return Public, fmt.Errorf("unknown visibility %q", s)
}

// Participant is a connection's membership record within a room.
type Participant struct {
	ConnectionID string `json:"id"`
	DisplayName  string `json:"name"`
}

// Snapshot is a copy of a room's membership taken under the room lock.
type Snapshot struct {
	RoomID       string
	Visibility   Visibility
	Participants []Participant
}

// RoomInfo is a read-only summary used for listings.
type RoomInfo struct {
	ID               string     `json:"roomId"`
	Visibility       Visibility `json:"-"`
	ParticipantCount int        `json:"participantCount"`
}

// Room is a named membership scope. Its participant list and count are
// only ever mutated together while mu is held.
type Room struct {
	id           string
	visibility   Visibility
	passwordHash string
	joinLink     string

	mu           sync.Mutex
	participants []Participant
	count        int
	closed       bool
}

func newRoom(id string, visibility Visibility, passwordHash, joinLink string) *Room {
	return &Room{
		id:           id,
		visibility:   visibility,
		passwordHash: passwordHash,
		joinLink:     joinLink,
		participants: make([]Participant, 0),
	}
}

func (r *Room) indexOf(connectionID string) int {
	for i, p := range r.participants {
		if p.ConnectionID == connectionID {
			return i
		}
	}
	return -1
}

// add appends a participant. Caller holds mu.
func (r *Room) add(p Participant) {
	r.participants = append(r.participants, p)
	r.count++
}

// remove drops the participant at index i. Caller holds mu.
func (r *Room) remove(i int) {
	r.participants = append(r.participants[:i], r.participants[i+1:]...)
	r.count--
}

// copyParticipants returns a copy safe to hand out. Caller holds mu.
func (r *Room) copyParticipants() []Participant {
	out := make([]Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		RoomID:       r.id,
		Visibility:   r.visibility,
		Participants: r.copyParticipants(),
	}
}
