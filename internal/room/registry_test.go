package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/confera/confera/internal/auth"
	"github.com/confera/confera/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fastParams = auth.Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.DiscardHandler), NumericIDGenerator{}, auth.NewArgon2(fastParams), 0)
}

func requireCountConsistent(t *testing.T, r *Registry, id string, v Visibility) {
	t.Helper()
	participants, err := r.Participants(id, v)
	require.NoError(t, err)
	require.Equal(t, len(participants), storedCount(r, id, v))
}

// storedCount reads the room's counter directly, bypassing the list.
func storedCount(r *Registry, id string, v Visibility) int {
	room := r.lookup(id, v)
	if room == nil {
		return -1
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.count
}

func TestRegistry_CreateRoom(t *testing.T) {
	t.Run("should create an empty public room", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()

		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link-1"))

		participants, err := r.Participants("1111-2222-3333", Public)
		req.NoError(err)
		req.Empty(participants)
		count := storedCount(r, "1111-2222-3333", Public)
		req.Zero(count)
	})

	t.Run("should reject a duplicate id in the same namespace and keep the original", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link-1"))
		_, err := r.AddParticipant("1111-2222-3333", Public, "a", "Alice", "")
		req.NoError(err)

		err = r.CreateRoom("1111-2222-3333", Public, "", "link-2")

		req.ErrorIs(err, ErrRoomExists)
		participants, _ := r.Participants("1111-2222-3333", Public)
		req.Len(participants, 1)
		link, err := r.Authenticate("1111-2222-3333", Public, "")
		req.NoError(err)
		req.Equal("link-1", link)
	})

	t.Run("should allow the same id in both namespaces", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()

		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link-pub"))
		req.NoError(r.CreateRoom("1111-2222-3333", Private, "secret", "link-priv"))
	})

	t.Run("should reject a join link already in use", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "same"))

		err := r.CreateRoom("4444-5555-6666", Private, "secret", "same")

		req.ErrorIs(err, ErrLinkExists)
		_, err = r.Participants("4444-5555-6666", Private)
		req.ErrorIs(err, ErrRoomNotFound)
	})

	t.Run("should surface hashing failures without inserting", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		hasher := mocks.NewMockPasswordHasher(ctrl)
		hasher.EXPECT().Hash("secret").Return("", errors.New("boom")).Times(1)
		r := NewRegistry(slog.New(slog.DiscardHandler), NumericIDGenerator{}, hasher, 0)

		err := r.CreateRoom("1111-2222-3333", Private, "secret", "link")

		req.Error(err)
		req.Empty(r.List(Private))
	})
}

func TestRegistry_CreateRoom_Concurrent_Same_ID(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	const workers = 32

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.CreateRoom("1111-2222-3333", Public, "", fmt.Sprintf("link-%d", i))
		}(i)
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		req.ErrorIs(err, ErrRoomExists)
	}
	req.Equal(1, created)
}

func TestRegistry_GenerateUniqueID(t *testing.T) {
	t.Run("should retry on collisions within the namespace", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		ids := mocks.NewMockIDGenerator(ctrl)
		r := NewRegistry(slog.New(slog.DiscardHandler), ids, auth.NewArgon2(fastParams), 10)
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))

		gomock.InOrder(
			ids.EXPECT().Next().Return("1111-2222-3333", nil),
			ids.EXPECT().Next().Return("1111-2222-3333", nil),
			ids.EXPECT().Next().Return("4444-5555-6666", nil),
		)

		id, err := r.GenerateUniqueID(Public)

		req.NoError(err)
		req.Equal("4444-5555-6666", id)
	})

	t.Run("should not treat the other namespace as a collision", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		ids := mocks.NewMockIDGenerator(ctrl)
		r := NewRegistry(slog.New(slog.DiscardHandler), ids, auth.NewArgon2(fastParams), 10)
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))
		ids.EXPECT().Next().Return("1111-2222-3333", nil).Times(1)

		id, err := r.GenerateUniqueID(Private)

		req.NoError(err)
		req.Equal("1111-2222-3333", id)
	})

	t.Run("should give up after the retry ceiling", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		ids := mocks.NewMockIDGenerator(ctrl)
		r := NewRegistry(slog.New(slog.DiscardHandler), ids, auth.NewArgon2(fastParams), 5)
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))
		ids.EXPECT().Next().Return("1111-2222-3333", nil).Times(5)

		_, err := r.GenerateUniqueID(Public)

		req.ErrorIs(err, ErrGenerationExhausted)
	})

	t.Run("should propagate generator errors", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		ids := mocks.NewMockIDGenerator(ctrl)
		r := NewRegistry(slog.New(slog.DiscardHandler), ids, auth.NewArgon2(fastParams), 5)
		boom := errors.New("entropy")
		ids.EXPECT().Next().Return("", boom).Times(1)

		_, err := r.GenerateUniqueID(Public)

		req.ErrorIs(err, boom)
	})
}

func TestRegistry_AddParticipant(t *testing.T) {
	t.Run("should return a snapshot with the new participant", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))

		snap, err := r.AddParticipant("1111-2222-3333", Public, "a", "Alice", "")

		req.NoError(err)
		req.Equal("1111-2222-3333", snap.RoomID)
		req.Equal([]Participant{{ConnectionID: "a", DisplayName: "Alice"}}, snap.Participants)
		requireCountConsistent(t, r, "1111-2222-3333", Public)
	})

	t.Run("should default the display name", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))

		snap, err := r.AddParticipant("1111-2222-3333", Public, "a", "  ", "")

		req.NoError(err)
		req.Equal(DefaultDisplayName, snap.Participants[0].DisplayName)
	})

	t.Run("should return a copy that cannot mutate the room", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))

		snap, err := r.AddParticipant("1111-2222-3333", Public, "a", "Alice", "")
		req.NoError(err)
		snap.Participants[0].DisplayName = "Mallory"

		participants, _ := r.Participants("1111-2222-3333", Public)
		req.Equal("Alice", participants[0].DisplayName)
	})

	t.Run("should fail for an unknown room", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()

		_, err := r.AddParticipant("nope", Public, "a", "Alice", "")

		req.ErrorIs(err, ErrRoomNotFound)
	})

	t.Run("should not mutate a private room on a wrong password", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Private, "secret", "link"))

		_, err := r.AddParticipant("1111-2222-3333", Private, "a", "Alice", "wrong")

		req.ErrorIs(err, ErrWrongCredentials)
		participants, _ := r.Participants("1111-2222-3333", Private)
		req.Empty(participants)
		requireCountConsistent(t, r, "1111-2222-3333", Private)
	})

	t.Run("should accept the right password", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Private, "secret", "link"))

		snap, err := r.AddParticipant("1111-2222-3333", Private, "a", "Alice", "secret")

		req.NoError(err)
		req.Len(snap.Participants, 1)
	})

	t.Run("should ignore the password for public rooms", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))

		_, err := r.AddParticipant("1111-2222-3333", Public, "a", "Alice", "whatever")

		req.NoError(err)
	})

	t.Run("should keep a single entry when the same connection joins twice", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))

		_, err := r.AddParticipant("1111-2222-3333", Public, "a", "Alice", "")
		req.NoError(err)
		_, err = r.AddParticipant("1111-2222-3333", Public, "a", "Alice", "")

		req.ErrorIs(err, ErrAlreadyJoined)
		participants, _ := r.Participants("1111-2222-3333", Public)
		req.Len(participants, 1)
		requireCountConsistent(t, r, "1111-2222-3333", Public)
	})
}

func TestRegistry_RemoveParticipant(t *testing.T) {
	t.Run("should return the remaining participants in join order", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))
		for _, id := range []string{"a", "b", "c"} {
			_, err := r.AddParticipant("1111-2222-3333", Public, id, id, "")
			req.NoError(err)
		}

		remaining := r.RemoveParticipant("1111-2222-3333", Public, "b")

		req.Equal([]Participant{{"a", "a"}, {"c", "c"}}, remaining)
		requireCountConsistent(t, r, "1111-2222-3333", Public)
	})

	t.Run("should be a no-op for an unknown participant", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))
		_, err := r.AddParticipant("1111-2222-3333", Public, "a", "Alice", "")
		req.NoError(err)

		remaining := r.RemoveParticipant("1111-2222-3333", Public, "ghost")

		req.Equal([]Participant{{"a", "Alice"}}, remaining)
		count := storedCount(r, "1111-2222-3333", Public)
		req.Equal(1, count)
	})

	t.Run("should never underflow on an empty room", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))

		remaining := r.RemoveParticipant("1111-2222-3333", Public, "a")

		req.Empty(remaining)
		count := storedCount(r, "1111-2222-3333", Public)
		req.Zero(count)
	})

	t.Run("should be a no-op for an unknown room", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()

		req.Nil(r.RemoveParticipant("nope", Public, "a"))
	})

	t.Run("should keep an empty room alive", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))
		_, err := r.AddParticipant("1111-2222-3333", Public, "a", "Alice", "")
		req.NoError(err)

		r.RemoveParticipant("1111-2222-3333", Public, "a")

		_, err = r.Authenticate("1111-2222-3333", Public, "")
		req.NoError(err)
	})
}

func TestRegistry_Concurrent_Join_Leave_Keeps_Count_Consistent(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.NewString()
			_, err := r.AddParticipant("1111-2222-3333", Public, id, "", "")
			if err != nil {
				return
			}
			r.RemoveParticipant("1111-2222-3333", Public, id)
		}()
	}
	wg.Wait()

	requireCountConsistent(t, r, "1111-2222-3333", Public)
	count := storedCount(r, "1111-2222-3333", Public)
	req.Zero(count)
}

func TestRegistry_Authenticate(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	req.NoError(r.CreateRoom("1111-2222-3333", Private, "secret", "priv-link"))
	req.NoError(r.CreateRoom("4444-5555-6666", Public, "", "pub-link"))

	link, err := r.Authenticate("1111-2222-3333", Private, "secret")
	req.NoError(err)
	req.Equal("priv-link", link)

	_, err = r.Authenticate("1111-2222-3333", Private, "wrong")
	req.ErrorIs(err, ErrWrongCredentials)

	link, err = r.Authenticate("4444-5555-6666", Public, "ignored")
	req.NoError(err)
	req.Equal("pub-link", link)

	_, err = r.Authenticate("4444-5555-6666", Private, "")
	req.ErrorIs(err, ErrRoomNotFound)
}

func TestRegistry_Verify_Then_Admit(t *testing.T) {
	t.Run("should admit with a pass and leave membership alone until then", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Private, "secret", "link"))

		pass, err := r.Verify("1111-2222-3333", Private, "secret")
		req.NoError(err)
		req.Zero(storedCount(r, "1111-2222-3333", Private))

		snap, err := r.Admit(pass, "a", "Alice")
		req.NoError(err)
		req.Equal([]Participant{{"a", "Alice"}}, snap.Participants)
		requireCountConsistent(t, r, "1111-2222-3333", Private)
	})

	t.Run("should only hash for private rooms", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		hasher := mocks.NewMockPasswordHasher(ctrl)
		hasher.EXPECT().Hash("secret").Return("hashed", nil).Times(1)
		hasher.EXPECT().Compare("wrong", "hashed").Return(false, nil).Times(1)
		r := NewRegistry(slog.New(slog.DiscardHandler), NumericIDGenerator{}, hasher, 0)
		req.NoError(r.CreateRoom("1111-2222-3333", Private, "secret", "l1"))
		req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "l2"))

		_, err := r.Verify("1111-2222-3333", Private, "wrong")
		req.ErrorIs(err, ErrWrongCredentials)
		_, err = r.Verify("1111-2222-3333", Public, "anything")
		req.NoError(err)
	})

	t.Run("should refuse a pass for a room deleted and recreated since", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		req.NoError(r.CreateRoom("1111-2222-3333", Private, "old", "link"))
		pass, err := r.Verify("1111-2222-3333", Private, "old")
		req.NoError(err)

		_, err = r.DeleteRoom("1111-2222-3333", Private)
		req.NoError(err)
		req.NoError(r.CreateRoom("1111-2222-3333", Private, "new", "link"))

		_, err = r.Admit(pass, "a", "Alice")
		req.ErrorIs(err, ErrRoomNotFound)
		req.Zero(storedCount(r, "1111-2222-3333", Private))
	})

	t.Run("should reject the zero pass", func(t *testing.T) {
		_, err := newTestRegistry().Admit(Pass{}, "a", "Alice")
		require.ErrorIs(t, err, ErrRoomNotFound)
	})
}

func TestRegistry_ResolveByJoinLink(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	req.NoError(r.CreateRoom("1111-2222-3333", Private, "secret", "priv-link"))
	req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "pub-link"))

	id, v, err := r.ResolveByJoinLink("priv-link")
	req.NoError(err)
	req.Equal("1111-2222-3333", id)
	req.Equal(Private, v)

	id, v, err = r.ResolveByJoinLink("pub-link")
	req.NoError(err)
	req.Equal("1111-2222-3333", id)
	req.Equal(Public, v)

	_, _, err = r.ResolveByJoinLink("missing")
	req.ErrorIs(err, ErrLinkNotFound)
}

func TestRegistry_DeleteRoom(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))
	_, err := r.AddParticipant("1111-2222-3333", Public, "a", "Alice", "")
	req.NoError(err)

	// When the room is deleted
	remaining, err := r.DeleteRoom("1111-2222-3333", Public)

	// Then the members are reported and the room and link are gone
	req.NoError(err)
	req.Equal([]Participant{{"a", "Alice"}}, remaining)
	_, _, err = r.ResolveByJoinLink("link")
	req.ErrorIs(err, ErrLinkNotFound)
	_, err = r.AddParticipant("1111-2222-3333", Public, "b", "Bob", "")
	req.ErrorIs(err, ErrRoomNotFound)

	// And the id and link can be reused
	req.NoError(r.CreateRoom("1111-2222-3333", Public, "", "link"))

	_, err = r.DeleteRoom("nope", Public)
	req.ErrorIs(err, ErrRoomNotFound)
}

func TestRegistry_List(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	req.NoError(r.CreateRoom("2222-0000-0000", Public, "", "l2"))
	req.NoError(r.CreateRoom("1111-0000-0000", Public, "", "l1"))
	req.NoError(r.CreateRoom("3333-0000-0000", Private, "x", "l3"))
	_, err := r.AddParticipant("2222-0000-0000", Public, "a", "Alice", "")
	req.NoError(err)

	infos := r.List(Public)

	req.Equal([]RoomInfo{
		{ID: "1111-0000-0000", Visibility: Public, ParticipantCount: 0},
		{ID: "2222-0000-0000", Visibility: Public, ParticipantCount: 1},
	}, infos)
}

func TestCode(t *testing.T) {
	req := require.New(t)
	req.Equal("wrong_credentials", Code(fmt.Errorf("join: %w", ErrWrongCredentials)))
	req.Equal("internal", Code(errors.New("other")))
}
