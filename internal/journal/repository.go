// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package journal

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntryRepository persists entries. Implementations join the transaction
// carried by ctx when there is one.
type EntryRepository interface {
	// Create stores a new entry.
	Create(ctx context.Context, entry *Entry) error

	// Get returns the entry with id, or ErrNotFound.
	Get(ctx context.Context, id ulid.ULID) (*Entry, error)

	// GetMany returns the entries that exist among ids, keyed by id.
	GetMany(ctx context.Context, ids []ulid.ULID) (map[ulid.ULID]*Entry, error)

	// Update writes title, content, version and updated_at and clears the
	// audio of the previous text. It succeeds only if the stored version is
	// entry.Version-1 and returns ErrStaleVersion otherwise, or ErrNotFound
	// if the entry is gone.
	Update(ctx context.Context, entry *Entry) error

	// AttachAudio stores audio if the entry still has the given version and
	// reports whether it did.
	AttachAudio(ctx context.Context, id ulid.ULID, version int, audio []byte) (bool, error)

	// Delete removes an entry, returning ErrNotFound if it does not exist.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteMany removes the given entries and returns how many existed.
	DeleteMany(ctx context.Context, ids []ulid.ULID) (int, error)

	// ListOrphans returns ids of entries created before cutoff that no user owns.
	ListOrphans(ctx context.Context, cutoff time.Time) ([]ulid.ULID, error)
}

// OwnershipIndex maps a user to the ordered list of entries they own.
// An entry id appears under at most one user.
type OwnershipIndex interface {
	// Append adds entryID to the end of userID's list.
	Append(ctx context.Context, userID, entryID ulid.ULID) error

	// Remove drops entryID from userID's list and reports whether it was there.
	Remove(ctx context.Context, userID, entryID ulid.ULID) (bool, error)

	// List returns userID's entry ids in insertion order.
	List(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error)

	// Owns reports whether entryID is in userID's list.
	Owns(ctx context.Context, userID, entryID ulid.ULID) (bool, error)

	// RemoveAll empties userID's list and returns the ids it held.
	RemoveAll(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error)
}

// Transactor runs fn atomically. Repositories called with the ctx passed to
// fn take part in the same transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
