// Package session tracks per-connection state: identity, display name and
// the single room a connection is bound to.
package session

import (
	"errors"
	"sync"

	"github.com/confera/confera/internal/room"
)

var (
	ErrNotRegistered = errors.New("session not registered")
	ErrAlreadyJoined = errors.New("session already joined a room")
)

// Session is the ephemeral state of one live connection.
type Session struct {
	ConnectionID string
	DisplayName  string
	Joined       bool
	RoomID       string
	Visibility   room.Visibility
}

func (s Session) IsPrivateRoom() bool {
	return s.Visibility == room.Private
}

// Name returns the display name, or the default when none was given.
func (s Session) Name() string {
	if s.DisplayName == "" {
		return room.DefaultDisplayName
	}
	return s.DisplayName
}

// Table holds exactly one Session per live connection.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Register adds a session for connectionID. It reports false when one
// already exists, leaving it untouched.
func (t *Table) Register(connectionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[connectionID]; ok {
		return false
	}
	t.sessions[connectionID] = &Session{ConnectionID: connectionID}
	return true
}

func (t *Table) SetDisplayName(connectionID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[connectionID]
	if !ok {
		return ErrNotRegistered
	}
	s.DisplayName = name
	return nil
}

// MarkJoined binds the session to a room. A session joins at most once.
func (t *Table) MarkJoined(connectionID, roomID string, visibility room.Visibility) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[connectionID]
	if !ok {
		return ErrNotRegistered
	}
	if s.Joined {
		return ErrAlreadyJoined
	}
	s.Joined = true
	s.RoomID = roomID
	s.Visibility = visibility
	return nil
}

// Release unbinds a session whose room was deleted by an administrator.
func (t *Table) Release(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[connectionID]; ok {
		s.Joined = false
		s.RoomID = ""
		s.Visibility = room.Public
	}
}

// Get returns a copy of the session.
func (t *Table) Get(connectionID string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[connectionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Remove deletes the session and returns its last state.
func (t *Table) Remove(connectionID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[connectionID]
	if !ok {
		return Session{}, false
	}
	delete(t.sessions, connectionID)
	return *s, true
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
