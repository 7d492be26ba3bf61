// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package memstore keeps users, entries and the ownership index in process
// memory. It implements the same contracts as the PostgreSQL repositories,
// including atomic transactions, and backs the memory store driver and tests.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/journal"
)

// Store holds all state behind one mutex. A transaction holds the mutex for
// its whole duration and restores a snapshot if it fails.
type Store struct {
	mu sync.Mutex
	state

	faultsMu sync.Mutex
	faults   map[string]error
}

type state struct {
	users      map[ulid.ULID]*auth.User
	usernames  map[string]ulid.ULID
	entries    map[ulid.ULID]*journal.Entry
	owned      map[ulid.ULID][]ulid.ULID
	entryOwner map[ulid.ULID]ulid.ULID
	config     map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		state: state{
			users:      make(map[ulid.ULID]*auth.User),
			usernames:  make(map[string]ulid.ULID),
			entries:    make(map[ulid.ULID]*journal.Entry),
			owned:      make(map[ulid.ULID][]ulid.ULID),
			entryOwner: make(map[ulid.ULID]ulid.ULID),
			config:     make(map[string]string),
		},
		faults: make(map[string]error),
	}
}

var _ journal.Transactor = (*Store)(nil)

type txKey struct{}

// InTransaction runs fn with exclusive access to the store. If fn returns an
// error every change it made is undone. Nested calls join the outer one.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// lock takes the mutex unless ctx already runs inside this store's transaction.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// FailOn makes every later call of operation return err until ClearFaults.
// Operation names are "<repository>.<method>", e.g. "ownership.append".
func (s *Store) FailOn(operation string, err error) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults[operation] = err
}

// ClearFaults removes every injected failure.
func (s *Store) ClearFaults() {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	clear(s.faults)
}

func (s *Store) fault(operation string) error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	return s.faults[operation]
}

// Users returns the user repository view of the store.
func (s *Store) Users() *UserRepository {
	return &UserRepository{s: s}
}

// Entries returns the entry repository view of the store.
func (s *Store) Entries() *EntryRepository {
	return &EntryRepository{s: s}
}

// Ownership returns the ownership index view of the store.
func (s *Store) Ownership() *OwnershipIndex {
	return &OwnershipIndex{s: s}
}

// Settings returns the app_config view of the store.
func (s *Store) Settings() *SettingsSource {
	return &SettingsSource{s: s}
}

// EntryCount returns the number of stored entries, owned or not.
func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// DropEntryRow deletes an entry while leaving any ownership reference in
// place, reproducing the state a non-transactional store leaves behind.
func (s *Store) DropEntryRow(id ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// InsertOrphan stores an entry that no user owns.
func (s *Store) InsertOrphan(e *journal.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = copyEntry(e)
}

func (st state) clone() state {
	out := state{
		users:      make(map[ulid.ULID]*auth.User, len(st.users)),
		usernames:  maps.Clone(st.usernames),
		entries:    make(map[ulid.ULID]*journal.Entry, len(st.entries)),
		owned:      make(map[ulid.ULID][]ulid.ULID, len(st.owned)),
		entryOwner: maps.Clone(st.entryOwner),
		config:     maps.Clone(st.config),
	}
	for id, u := range st.users {
		out.users[id] = copyUser(u)
	}
	for id, e := range st.entries {
		out.entries[id] = copyEntry(e)
	}
	for id, ids := range st.owned {
		out.owned[id] = slices.Clone(ids)
	}
	return out
}

func copyUser(u *auth.User) *auth.User {
	c := *u
	c.Roles = slices.Clone(u.Roles)
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

func copyEntry(e *journal.Entry) *journal.Entry {
	c := *e
	c.Audio = slices.Clone(e.Audio)
	return &c
}
