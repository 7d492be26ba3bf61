// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/journal"
)

// EntryRepository implements journal.EntryRepository.
type EntryRepository struct {
	s *Store
}

var _ journal.EntryRepository = (*EntryRepository)(nil)

// Create stores a new entry.
func (r *EntryRepository) Create(ctx context.Context, entry *journal.Entry) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("entries.create"); err != nil {
		return err
	}
	if _, exists := r.s.entries[entry.ID]; exists {
		return oops.Code("ENTRY_CREATE_FAILED").With("entry_id", entry.ID.String()).Errorf("entry already exists")
	}
	r.s.entries[entry.ID] = copyEntry(entry)
	return nil
}

// Get returns the entry with id.
func (r *EntryRepository) Get(ctx context.Context, id ulid.ULID) (*journal.Entry, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("entries.get"); err != nil {
		return nil, err
	}
	e, ok := r.s.entries[id]
	if !ok {
		return nil, oops.Code("ENTRY_NOT_FOUND").With("entry_id", id.String()).Wrap(journal.ErrNotFound)
	}
	return copyEntry(e), nil
}

// GetMany returns the existing entries among ids.
func (r *EntryRepository) GetMany(ctx context.Context, ids []ulid.ULID) (map[ulid.ULID]*journal.Entry, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("entries.get"); err != nil {
		return nil, err
	}
	out := make(map[ulid.ULID]*journal.Entry, len(ids))
	for _, id := range ids {
		if e, ok := r.s.entries[id]; ok {
			out[id] = copyEntry(e)
		}
	}
	return out, nil
}

// Update writes the text fields if the stored version is entry.Version-1.
// Audio generated from the previous text is dropped.
func (r *EntryRepository) Update(ctx context.Context, entry *journal.Entry) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("entries.update"); err != nil {
		return err
	}
	stored, ok := r.s.entries[entry.ID]
	if !ok {
		return oops.Code("ENTRY_NOT_FOUND").With("entry_id", entry.ID.String()).Wrap(journal.ErrNotFound)
	}
	if stored.Version != entry.Version-1 {
		return oops.Code("ENTRY_STALE_VERSION").
			With("entry_id", entry.ID.String()).
			With("stored_version", stored.Version).
			Wrap(journal.ErrStaleVersion)
	}
	stored.Title = entry.Title
	stored.Content = entry.Content
	stored.Version = entry.Version
	stored.UpdatedAt = entry.UpdatedAt
	stored.Audio = nil
	return nil
}

// AttachAudio stores audio if the entry is still at version.
func (r *EntryRepository) AttachAudio(ctx context.Context, id ulid.ULID, version int, audio []byte) (bool, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("entries.attach_audio"); err != nil {
		return false, err
	}
	stored, ok := r.s.entries[id]
	if !ok || stored.Version != version {
		return false, nil
	}
	stored.Audio = slices.Clone(audio)
	return true, nil
}

// Delete removes an entry.
func (r *EntryRepository) Delete(ctx context.Context, id ulid.ULID) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("entries.delete"); err != nil {
		return err
	}
	if _, ok := r.s.entries[id]; !ok {
		return oops.Code("ENTRY_NOT_FOUND").With("entry_id", id.String()).Wrap(journal.ErrNotFound)
	}
	delete(r.s.entries, id)
	return nil
}

// DeleteMany removes the given entries and returns how many existed.
func (r *EntryRepository) DeleteMany(ctx context.Context, ids []ulid.ULID) (int, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("entries.delete"); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, ok := r.s.entries[id]; ok {
			delete(r.s.entries, id)
			n++
		}
	}
	return n, nil
}

// ListOrphans returns unowned entries created before cutoff, oldest first.
func (r *EntryRepository) ListOrphans(ctx context.Context, cutoff time.Time) ([]ulid.ULID, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	var orphans []*journal.Entry
	for id, e := range r.s.entries {
		if _, owned := r.s.entryOwner[id]; owned {
			continue
		}
		if e.CreatedAt.Before(cutoff) {
			orphans = append(orphans, e)
		}
	}
	slices.SortFunc(orphans, func(a, b *journal.Entry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	ids := make([]ulid.ULID, len(orphans))
	for i, e := range orphans {
		ids[i] = e.ID
	}
	return ids, nil
}
