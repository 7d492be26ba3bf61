// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package journal

import (
	"errors"

	"github.com/samber/oops"
)

var (
	// ErrNotFound is returned when an entry is absent or not owned by the caller.
	ErrNotFound = errors.New("entry not found")

	// ErrInconsistentState is returned when a multi-write mutation fails.
	// The mutation was rolled back and nothing partial is visible.
	ErrInconsistentState = errors.New("journal mutation could not be applied")

	// ErrInvalidEntry is returned for entries that fail validation.
	ErrInvalidEntry = errors.New("invalid entry")

	// ErrStaleVersion is returned by EntryRepository.Update when the stored
	// version no longer matches the one the update was based on.
	ErrStaleVersion = errors.New("entry was modified concurrently")
)

func notFound(id string) error {
	return oops.Code("ENTRY_NOT_FOUND").With("entry_id", id).Wrap(ErrNotFound)
}

func inconsistent(operation string, err error) error {
	return oops.Code("JOURNAL_INCONSISTENT_STATE").
		With("operation", operation).
		Wrap(errors.Join(ErrInconsistentState, err))
}
