package room

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// DefaultMaxAttempts bounds GenerateUniqueID.
const DefaultMaxAttempts = 1000

type roomKey struct {
	id         string
	visibility Visibility
}

// Registry owns the public and private room namespaces.
//
// Locking: mu guards the namespace maps and the join link index; each
// Room guards its own participant list. mu is never acquired while a
// room lock is held.
type Registry struct {
	log         *slog.Logger
	ids         IDGenerator
	hasher      PasswordHasher
	maxAttempts int

	mu    sync.RWMutex
	rooms map[Visibility]map[string]*Room
	links map[string]roomKey
}

// NewRegistry creates an empty registry. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewRegistry(log *slog.Logger, ids IDGenerator, hasher PasswordHasher, maxAttempts int) *Registry {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Registry{
		log:         log,
		ids:         ids,
		hasher:      hasher,
		maxAttempts: maxAttempts,
		rooms: map[Visibility]map[string]*Room{
			Public:  make(map[string]*Room),
			Private: make(map[string]*Room),
		},
		links: make(map[string]roomKey),
	}
}

func (r *Registry) lookup(id string, visibility Visibility) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[visibility][id]
}

// CreateRoom inserts an empty room. The existence check and the insert
// happen under one write lock.
func (r *Registry) CreateRoom(id string, visibility Visibility, password, joinLink string) error {
	var hash string
	if visibility == Private {
		h, err := r.hasher.Hash(password)
		if err != nil {
			return fmt.Errorf("hash room password: %w", err)
		}
		hash = h
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[visibility][id]; ok {
		return ErrRoomExists
	}
	if _, ok := r.links[joinLink]; ok {
		return ErrLinkExists
	}

	r.rooms[visibility][id] = newRoom(id, visibility, hash, joinLink)
	r.links[joinLink] = roomKey{id: id, visibility: visibility}

	r.log.Info("Room created", "room", id, "visibility", visibility)
	return nil
}

// GenerateUniqueID draws candidates until one is free in the namespace.
// The id is not reserved; CreateRoom still performs the atomic check.
func (r *Registry) GenerateUniqueID(visibility Visibility) (string, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		id, err := r.ids.Next()
		if err != nil {
			return "", err
		}
		if r.lookup(id, visibility) == nil {
			return id, nil
		}
		r.log.Debug("Room id collision", "room", id, "visibility", visibility, "attempt", attempt)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrGenerationExhausted, r.maxAttempts)
}

func (r *Registry) checkPassword(room *Room, password string) error {
	if room.visibility != Private {
		return nil
	}
	ok, err := r.hasher.Compare(password, room.passwordHash)
	if err != nil {
		return fmt.Errorf("compare room password: %w", err)
	}
	if !ok {
		return ErrWrongCredentials
	}
	return nil
}

// Pass records that a join request cleared the credential check for one
// room. It is only honoured while that room still exists.
type Pass struct {
	room *Room
}

// Verify checks that the room exists and, for private rooms, that the
// password matches. It may hash and so should not run on a latency
// sensitive goroutine. No membership is changed.
func (r *Registry) Verify(id string, visibility Visibility, password string) (Pass, error) {
	room := r.lookup(id, visibility)
	if room == nil {
		return Pass{}, ErrRoomNotFound
	}
	if err := r.checkPassword(room, password); err != nil {
		return Pass{}, err
	}
	return Pass{room: room}, nil
}

// Admit joins connectionID to the room a Pass was issued for and returns
// a copy of the updated membership.
func (r *Registry) Admit(pass Pass, connectionID, displayName string) (Snapshot, error) {
	room := pass.room
	if room == nil {
		return Snapshot{}, ErrRoomNotFound
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = DefaultDisplayName
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	// The room may have been deleted since the pass was issued. A room
	// recreated under the same id is a different Room.
	if room.closed {
		return Snapshot{}, ErrRoomNotFound
	}
	if room.indexOf(connectionID) >= 0 {
		return Snapshot{}, ErrAlreadyJoined
	}
	room.add(Participant{ConnectionID: connectionID, DisplayName: displayName})
	return room.snapshot(), nil
}

// AddParticipant verifies credentials and joins connectionID in one call.
// Credentials are checked before any mutation.
func (r *Registry) AddParticipant(id string, visibility Visibility, connectionID, displayName, password string) (Snapshot, error) {
	pass, err := r.Verify(id, visibility, password)
	if err != nil {
		return Snapshot{}, err
	}
	return r.Admit(pass, connectionID, displayName)
}

// RemoveParticipant drops connectionID from the room and returns the
// remaining members. Unknown rooms or participants are a no-op.
func (r *Registry) RemoveParticipant(id string, visibility Visibility, connectionID string) []Participant {
	room := r.lookup(id, visibility)
	if room == nil {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.count == 0 {
		return room.copyParticipants()
	}
	if i := room.indexOf(connectionID); i >= 0 {
		room.remove(i)
	}
	return room.copyParticipants()
}

// Participants returns a copy of the room's current membership.
func (r *Registry) Participants(id string, visibility Visibility) ([]Participant, error) {
	room := r.lookup(id, visibility)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.copyParticipants(), nil
}

// Authenticate checks the room exists and, for private rooms, that the
// password matches. It returns the room's join link.
func (r *Registry) Authenticate(id string, visibility Visibility, password string) (string, error) {
	pass, err := r.Verify(id, visibility, password)
	if err != nil {
		return "", err
	}
	return pass.room.joinLink, nil
}

// ResolveByJoinLink finds the room a join link points at. Links are
// unique across both namespaces, so the index holds at most one match.
func (r *Registry) ResolveByJoinLink(joinLink string) (string, Visibility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.links[joinLink]
	if !ok {
		return "", Public, ErrLinkNotFound
	}
	return key.id, key.visibility, nil
}

// DeleteRoom removes a room and returns whoever was still inside.
func (r *Registry) DeleteRoom(id string, visibility Visibility) ([]Participant, error) {
	r.mu.Lock()
	room, ok := r.rooms[visibility][id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	delete(r.rooms[visibility], id)
	delete(r.links, room.joinLink)
	r.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()
	room.closed = true
	remaining := room.copyParticipants()
	room.participants = room.participants[:0]
	room.count = 0

	r.log.Info("Room deleted", "room", id, "visibility", visibility, "participants", len(remaining))
	return remaining, nil
}

// List summarises every room in a namespace, ordered by id.
func (r *Registry) List(visibility Visibility) []RoomInfo {
	r.mu.RLock()
	rooms := lo.Values(r.rooms[visibility])
	r.mu.RUnlock()

	infos := lo.Map(rooms, func(room *Room, _ int) RoomInfo {
		room.mu.Lock()
		defer room.mu.Unlock()
		return RoomInfo{ID: room.id, Visibility: room.visibility, ParticipantCount: room.count}
	})
	slices.SortFunc(infos, func(a, b RoomInfo) int { return strings.Compare(a.ID, b.ID) })
	return infos
}
