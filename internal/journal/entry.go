// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package journal

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxTitleLength bounds entry titles.
const MaxTitleLength = 200

// Entry is a journal entry. CreatedAt is set once by the server.
// Version starts at 1 and increments on every text change; it lets late
// audio results detect that the text they were generated from is gone.
type Entry struct {
	ID        ulid.ULID
	Title     string
	Content   string
	Version   int
	Audio     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAudio reports whether audio has been attached.
func (e *Entry) HasAudio() bool {
	return len(e.Audio) > 0
}

// Summary returns the listing view of the entry.
func (e *Entry) Summary() Summary {
	return Summary{
		ID:        e.ID,
		Title:     e.Title,
		Content:   e.Content,
		HasAudio:  e.HasAudio(),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// Summary is an entry without its audio payload.
type Summary struct {
	ID        ulid.ULID
	Title     string
	Content   string
	HasAudio  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Draft is the caller-supplied part of a new entry.
type Draft struct {
	Title   string
	Content string
}

// Patch is a partial update. Empty fields leave the stored value unchanged.
type Patch struct {
	Title   string
	Content string
}

// IsEmpty reports whether the patch would change nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == "" && p.Content == ""
}

// NewEntry validates d and builds a version 1 entry stamped with now.
func NewEntry(d Draft, now time.Time) (*Entry, error) {
	if err := validateTitle(d.Title); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Entry{
		ID:        ulid.Make(),
		Title:     d.Title,
		Content:   d.Content,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Apply merges p into e and reports whether the text changed. A change
// bumps the version and drops audio rendered from the old text.
func (e *Entry) Apply(p Patch, now time.Time) (bool, error) {
	changed := false
	if p.Title != "" && p.Title != e.Title {
		if err := validateTitle(p.Title); err != nil {
			return false, err
		}
		e.Title = p.Title
		changed = true
	}
	if p.Content != "" && p.Content != e.Content {
		e.Content = p.Content
		changed = true
	}
	if changed {
		e.Version++
		e.UpdatedAt = now.UTC()
		e.Audio = nil
	}
	return changed, nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return oops.Code("ENTRY_INVALID").With("field", "title").Wrap(ErrInvalidEntry)
	}
	if len(title) > MaxTitleLength {
		return oops.Code("ENTRY_INVALID").
			With("field", "title").
			With("max", MaxTitleLength).
			Wrap(ErrInvalidEntry)
	}
	return nil
}
