// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package postgres implements the journal repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/journal"
	"github.com/quilljournal/quill/internal/store"
)

const entryColumns = `id, title, content, version, audio, created_at, updated_at`

// EntryRepository implements journal.EntryRepository using PostgreSQL.
type EntryRepository struct {
	db store.DB
}

var _ journal.EntryRepository = (*EntryRepository)(nil)

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(db store.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// Create stores a new entry.
func (r *EntryRepository) Create(ctx context.Context, entry *journal.Entry) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		entry.ID.String(),
		entry.Title,
		entry.Content,
		entry.Version,
		entry.Audio,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return oops.Code("ENTRY_CREATE_FAILED").
			With("operation", "insert entry").
			With("entry_id", entry.ID.String()).
			Wrap(err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (r *EntryRepository) Get(ctx context.Context, id ulid.ULID) (*journal.Entry, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = $1`, id.String())

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ENTRY_NOT_FOUND").With("entry_id", id.String()).Wrap(journal.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ENTRY_GET_FAILED").
			With("operation", "get entry").
			With("entry_id", id.String()).
			Wrap(err)
	}
	return entry, nil
}

// GetMany returns the entries that exist among ids.
func (r *EntryRepository) GetMany(ctx context.Context, ids []ulid.ULID) (map[ulid.ULID]*journal.Entry, error) {
	found := make(map[ulid.ULID]*journal.Entry, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := store.Conn(ctx, r.db).Query(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ANY($1)`, idStrings(ids))
	if err != nil {
		return nil, oops.Code("ENTRY_GET_FAILED").With("operation", "query entries").Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, oops.Code("ENTRY_GET_FAILED").With("operation", "scan entry").Wrap(err)
		}
		found[entry.ID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ENTRY_GET_FAILED").With("operation", "iterate entries").Wrap(err)
	}
	return found, nil
}

// Update writes the text fields if the stored version is entry.Version-1.
func (r *EntryRepository) Update(ctx context.Context, entry *journal.Entry) error {
	q := store.Conn(ctx, r.db)
	tag, err := q.Exec(ctx, `
		UPDATE entries
		SET title = $2, content = $3, version = $4, updated_at = $5, audio = NULL
		WHERE id = $1 AND version = $6
	`,
		entry.ID.String(),
		entry.Title,
		entry.Content,
		entry.Version,
		entry.UpdatedAt,
		entry.Version-1,
	)
	if err != nil {
		return oops.Code("ENTRY_UPDATE_FAILED").
			With("operation", "update entry").
			With("entry_id", entry.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: the entry is gone or another writer got there first.
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entries WHERE id = $1)`, entry.ID.String()).Scan(&exists); err != nil {
		return oops.Code("ENTRY_UPDATE_FAILED").
			With("operation", "check entry exists").
			With("entry_id", entry.ID.String()).
			Wrap(err)
	}
	if !exists {
		return oops.Code("ENTRY_NOT_FOUND").With("entry_id", entry.ID.String()).Wrap(journal.ErrNotFound)
	}
	return oops.Code("ENTRY_STALE_VERSION").
		With("entry_id", entry.ID.String()).
		With("version", entry.Version-1).
		Wrap(journal.ErrStaleVersion)
}

// AttachAudio stores audio if the entry is still at version.
func (r *EntryRepository) AttachAudio(ctx context.Context, id ulid.ULID, version int, audio []byte) (bool, error) {
	tag, err := store.Conn(ctx, r.db).Exec(ctx,
		`UPDATE entries SET audio = $3 WHERE id = $1 AND version = $2`,
		id.String(), version, audio)
	if err != nil {
		return false, oops.Code("ENTRY_ATTACH_AUDIO_FAILED").
			With("operation", "attach audio").
			With("entry_id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes an entry. Its ownership row goes with it via ON DELETE CASCADE.
func (r *EntryRepository) Delete(ctx context.Context, id ulid.ULID) error {
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM entries WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("ENTRY_DELETE_FAILED").
			With("operation", "delete entry").
			With("entry_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ENTRY_NOT_FOUND").With("entry_id", id.String()).Wrap(journal.ErrNotFound)
	}
	return nil
}

// DeleteMany removes the given entries and returns how many existed.
func (r *EntryRepository) DeleteMany(ctx context.Context, ids []ulid.ULID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM entries WHERE id = ANY($1)`, idStrings(ids))
	if err != nil {
		return 0, oops.Code("ENTRY_DELETE_FAILED").
			With("operation", "delete entries").
			With("count", len(ids)).
			Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

// ListOrphans returns ids of entries created before cutoff that no user owns.
func (r *EntryRepository) ListOrphans(ctx context.Context, cutoff time.Time) ([]ulid.ULID, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `
		SELECT e.id FROM entries e
		WHERE e.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM user_entries ue WHERE ue.entry_id = e.id)
		ORDER BY e.created_at
	`, cutoff)
	if err != nil {
		return nil, oops.Code("ENTRY_LIST_ORPHANS_FAILED").With("operation", "query orphans").Wrap(err)
	}
	defer rows.Close()

	ids, err := scanIDs(rows)
	if err != nil {
		return nil, oops.Code("ENTRY_LIST_ORPHANS_FAILED").With("operation", "scan orphans").Wrap(err)
	}
	return ids, nil
}

func scanEntry(row pgx.Row) (*journal.Entry, error) {
	var (
		idStr string
		entry journal.Entry
	)
	if err := row.Scan(
		&idStr,
		&entry.Title,
		&entry.Content,
		&entry.Version,
		&entry.Audio,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ENTRY_CORRUPT").With("entry_id", idStr).Wrap(err)
	}
	entry.ID = id
	return &entry, nil
}

func scanIDs(rows pgx.Rows) ([]ulid.ULID, error) {
	var ids []ulid.ULID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, oops.Code("ENTRY_CORRUPT").With("entry_id", idStr).Wrap(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func idStrings(ids []ulid.ULID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
