// Package presence tracks which users have live connections and announces
// transitions on the presence destination of every room they belong to.
package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/weiawesome/wes-io-chat/internal/bus"
	"github.com/weiawesome/wes-io-chat/internal/destination"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// RoomResolver lists the rooms a user belongs to.
type RoomResolver interface {
	RoomsOf(ctx context.Context, username string) ([]domain.Room, error)
}

// Tracker reacts to connection lifecycle events. Events of one user are
// applied one at a time, store update and broadcast together, so the last
// announcement always matches the store.
type Tracker struct {
	store Store
	rooms RoomResolver
	bus   bus.Bus
	users userLocks
}

// NewTracker creates a presence tracker.
func NewTracker(store Store, rooms RoomResolver, b bus.Bus) *Tracker {
	return &Tracker{store: store, rooms: rooms, bus: b, users: userLocks{held: make(map[string]*userLock)}}
}

// HandleConnect registers connID and announces the user online when it is
// their first live connection.
func (t *Tracker) HandleConnect(ctx context.Context, p domain.Principal, connID string) {
	t.handle(ctx, p, connID, true)
}

// HandleDisconnect removes connID and announces the user offline when no
// connection remains.
func (t *Tracker) HandleDisconnect(ctx context.Context, p domain.Principal, connID string) {
	t.handle(ctx, p, connID, false)
}

func (t *Tracker) handle(ctx context.Context, p domain.Principal, connID string, online bool) {
	l := log.Ctx(ctx)

	if p.IsAnonymous() {
		l.Debug().Str(log.FieldConnID, connID).Msg("anonymous connection, presence skipped")
		return
	}

	unlock := t.users.lock(p.Username)
	defer unlock()

	var (
		tr  Transition
		err error
	)
	if online {
		tr, err = t.store.Connect(ctx, p.Username, connID)
	} else {
		tr, err = t.store.Disconnect(ctx, p.Username, connID)
	}

	announce := false
	switch {
	case err != nil:
		// store outage: announce anyway so clients are not left stale
		l.Error().Err(err).Str(log.FieldUsername, p.Username).Bool("online", online).Msg("presence store update failed")
		announce = true
	case online:
		announce = tr.Changed && tr.Sessions == 1
	default:
		announce = tr.Changed && tr.Sessions == 0
	}

	if !announce {
		l.Debug().
			Str(log.FieldUsername, p.Username).
			Int("sessions", tr.Sessions).
			Bool("online", online).
			Msg("presence unchanged")
		return
	}

	t.broadcast(ctx, p.Username, online)
}

func (t *Tracker) broadcast(ctx context.Context, username string, online bool) {
	l := log.Ctx(ctx)

	rooms, err := t.rooms.RoomsOf(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			l.Warn().Str(log.FieldUsername, username).Msg("user not found, presence broadcast skipped")
		} else {
			l.Error().Err(err).Str(log.FieldUsername, username).Msg("room lookup failed, presence broadcast skipped")
		}
		return
	}

	update := domain.PresenceUpdate{Username: username, Online: online}
	for _, room := range rooms {
		dest := destination.PresenceOf(room.Name)
		if err := t.bus.Send(ctx, dest, update); err != nil {
			l.Error().Err(err).Str(log.FieldDestination, dest).Msg("presence broadcast failed")
		}
	}

	l.Info().
		Str(log.FieldUsername, username).
		Bool("online", online).
		Int("rooms", len(rooms)).
		Msg("presence announced")
}

// IsOnline reports whether username has a live connection.
func (t *Tracker) IsOnline(ctx context.Context, username string) (bool, error) {
	return t.store.IsOnline(ctx, username)
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// userLocks is a mutex per username, dropped once nobody holds or waits on it.
type userLocks struct {
	mu   sync.Mutex
	held map[string]*userLock
}

func (u *userLocks) lock(username string) func() {
	u.mu.Lock()
	ul, ok := u.held[username]
	if !ok {
		ul = &userLock{}
		u.held[username] = ul
	}
	ul.refs++
	u.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()

		u.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(u.held, username)
		}
		u.mu.Unlock()
	}
}
