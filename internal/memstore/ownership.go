// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package memstore

import (
	"context"
	"slices"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/journal"
)

// OwnershipIndex implements journal.OwnershipIndex.
type OwnershipIndex struct {
	s *Store
}

var _ journal.OwnershipIndex = (*OwnershipIndex)(nil)

// Append adds entryID to userID's list. An entry can have only one owner.
func (x *OwnershipIndex) Append(ctx context.Context, userID, entryID ulid.ULID) error {
	unlock := x.s.lock(ctx)
	defer unlock()

	if err := x.s.fault("ownership.append"); err != nil {
		return err
	}
	if _, ok := x.s.users[userID]; !ok {
		return oops.Code("OWNERSHIP_UNKNOWN_USER").With("user_id", userID.String()).Errorf("user does not exist")
	}
	if _, ok := x.s.entries[entryID]; !ok {
		return oops.Code("OWNERSHIP_UNKNOWN_ENTRY").With("entry_id", entryID.String()).Errorf("entry does not exist")
	}
	if owner, taken := x.s.entryOwner[entryID]; taken {
		return oops.Code("OWNERSHIP_CONFLICT").
			With("entry_id", entryID.String()).
			With("owner_id", owner.String()).
			Errorf("entry already has an owner")
	}
	x.s.owned[userID] = append(x.s.owned[userID], entryID)
	x.s.entryOwner[entryID] = userID
	return nil
}

// Remove drops entryID from userID's list.
func (x *OwnershipIndex) Remove(ctx context.Context, userID, entryID ulid.ULID) (bool, error) {
	unlock := x.s.lock(ctx)
	defer unlock()

	if err := x.s.fault("ownership.remove"); err != nil {
		return false, err
	}
	if owner, ok := x.s.entryOwner[entryID]; !ok || owner != userID {
		return false, nil
	}
	x.s.owned[userID] = slices.DeleteFunc(x.s.owned[userID], func(id ulid.ULID) bool { return id == entryID })
	delete(x.s.entryOwner, entryID)
	return true, nil
}

// List returns userID's entry ids in insertion order.
func (x *OwnershipIndex) List(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error) {
	unlock := x.s.lock(ctx)
	defer unlock()

	if err := x.s.fault("ownership.list"); err != nil {
		return nil, err
	}
	return slices.Clone(x.s.owned[userID]), nil
}

// Owns reports whether entryID is in userID's list.
func (x *OwnershipIndex) Owns(ctx context.Context, userID, entryID ulid.ULID) (bool, error) {
	unlock := x.s.lock(ctx)
	defer unlock()

	if err := x.s.fault("ownership.list"); err != nil {
		return false, err
	}
	owner, ok := x.s.entryOwner[entryID]
	return ok && owner == userID, nil
}

// RemoveAll empties userID's list and returns the ids it held.
func (x *OwnershipIndex) RemoveAll(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error) {
	unlock := x.s.lock(ctx)
	defer unlock()

	if err := x.s.fault("ownership.remove"); err != nil {
		return nil, err
	}
	ids := x.s.owned[userID]
	for _, id := range ids {
		delete(x.s.entryOwner, id)
	}
	delete(x.s.owned, userID)
	return ids, nil
}
