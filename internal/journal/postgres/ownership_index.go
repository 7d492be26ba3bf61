// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package postgres

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/journal"
	"github.com/quilljournal/quill/internal/store"
)

// OwnershipIndex implements journal.OwnershipIndex over the user_entries
// table. The entry_id primary key gives every entry at most one owner.
type OwnershipIndex struct {
	db store.DB
}

var _ journal.OwnershipIndex = (*OwnershipIndex)(nil)

// NewOwnershipIndex creates a new OwnershipIndex.
func NewOwnershipIndex(db store.DB) *OwnershipIndex {
	return &OwnershipIndex{db: db}
}

// Append adds entryID to the end of userID's list.
func (x *OwnershipIndex) Append(ctx context.Context, userID, entryID ulid.ULID) error {
	_, err := store.Conn(ctx, x.db).Exec(ctx,
		`INSERT INTO user_entries (entry_id, user_id) VALUES ($1, $2)`,
		entryID.String(), userID.String())
	if err != nil {
		code := "OWNERSHIP_APPEND_FAILED"
		switch {
		case store.IsUniqueViolation(err, "user_entries_pkey"):
			code = "OWNERSHIP_CONFLICT"
		case store.IsForeignKeyViolation(err):
			code = "OWNERSHIP_UNKNOWN_REFERENCE"
		}
		return oops.Code(code).
			With("user_id", userID.String()).
			With("entry_id", entryID.String()).
			Wrap(err)
	}
	return nil
}

// Remove drops entryID from userID's list.
func (x *OwnershipIndex) Remove(ctx context.Context, userID, entryID ulid.ULID) (bool, error) {
	tag, err := store.Conn(ctx, x.db).Exec(ctx,
		`DELETE FROM user_entries WHERE user_id = $1 AND entry_id = $2`,
		userID.String(), entryID.String())
	if err != nil {
		return false, oops.Code("OWNERSHIP_REMOVE_FAILED").
			With("user_id", userID.String()).
			With("entry_id", entryID.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns userID's entry ids in insertion order.
func (x *OwnershipIndex) List(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error) {
	rows, err := store.Conn(ctx, x.db).Query(ctx,
		`SELECT entry_id FROM user_entries WHERE user_id = $1 ORDER BY position`,
		userID.String())
	if err != nil {
		return nil, oops.Code("OWNERSHIP_LIST_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	defer rows.Close()

	ids, err := scanIDs(rows)
	if err != nil {
		return nil, oops.Code("OWNERSHIP_LIST_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return ids, nil
}

// Owns reports whether entryID is in userID's list.
func (x *OwnershipIndex) Owns(ctx context.Context, userID, entryID ulid.ULID) (bool, error) {
	var owns bool
	err := store.Conn(ctx, x.db).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_entries WHERE user_id = $1 AND entry_id = $2)`,
		userID.String(), entryID.String()).Scan(&owns)
	if err != nil {
		return false, oops.Code("OWNERSHIP_CHECK_FAILED").
			With("user_id", userID.String()).
			With("entry_id", entryID.String()).
			Wrap(err)
	}
	return owns, nil
}

// RemoveAll empties userID's list and returns the ids it held.
func (x *OwnershipIndex) RemoveAll(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error) {
	rows, err := store.Conn(ctx, x.db).Query(ctx,
		`DELETE FROM user_entries WHERE user_id = $1 RETURNING entry_id`,
		userID.String())
	if err != nil {
		return nil, oops.Code("OWNERSHIP_REMOVE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	defer rows.Close()

	ids, err := scanIDs(rows)
	if err != nil {
		return nil, oops.Code("OWNERSHIP_REMOVE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return ids, nil
}
