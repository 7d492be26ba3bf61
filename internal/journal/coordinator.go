// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quilljournal/quill/internal/auth"
)

// maxUpdateAttempts bounds retries of an update that lost a version race.
const maxUpdateAttempts = 3

// CoordinatorConfig holds the dependencies of a Coordinator.
type CoordinatorConfig struct {
	Entries    EntryRepository
	Ownership  OwnershipIndex
	Users      auth.UserRepository
	Transactor Transactor
	// Audio is optional; without it entries never get audio.
	Audio  *AudioWorker
	Logger *slog.Logger
	// Clock is optional and defaults to time.Now.
	Clock func() time.Time
}

// Coordinator performs every entry mutation and every owner-scoped read.
// Each operation takes the calling principal explicitly.
type Coordinator struct {
	entries EntryRepository
	index   OwnershipIndex
	users   auth.UserRepository
	tx      Transactor
	audio   *AudioWorker
	logger  *slog.Logger
	now     func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Entries == nil {
		return nil, oops.Code("JOURNAL_INVALID_DEPENDENCY").Errorf("entry repository is required")
	}
	if cfg.Ownership == nil {
		return nil, oops.Code("JOURNAL_INVALID_DEPENDENCY").Errorf("ownership index is required")
	}
	if cfg.Users == nil {
		return nil, oops.Code("JOURNAL_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if cfg.Transactor == nil {
		return nil, oops.Code("JOURNAL_INVALID_DEPENDENCY").Errorf("transactor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Coordinator{
		entries: cfg.Entries,
		index:   cfg.Ownership,
		users:   cfg.Users,
		tx:      cfg.Transactor,
		audio:   cfg.Audio,
		logger:  cfg.Logger,
		now:     cfg.Clock,
	}, nil
}

// owner resolves the principal to its stored user. A principal whose
// account no longer exists is unauthenticated.
func (c *Coordinator) owner(ctx context.Context, p auth.Principal) (*auth.User, error) {
	if p.IsZero() {
		return nil, oops.Code("AUTH_UNAUTHENTICATED").Wrap(auth.ErrUnauthenticated)
	}
	user, err := c.users.GetByUsername(ctx, p.Username)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, oops.Code("AUTH_UNAUTHENTICATED").
			With("username", p.Username).
			Wrap(auth.ErrUnauthenticated)
	}
	if err != nil {
		return nil, oops.Code("JOURNAL_OWNER_LOOKUP_FAILED").
			With("username", p.Username).
			Wrap(err)
	}
	return user, nil
}

// CreateEntry stores a new entry and appends it to the principal's list in
// one transaction.
func (c *Coordinator) CreateEntry(ctx context.Context, p auth.Principal, draft Draft) (entry *Entry, err error) {
	ctx, end := startOp(ctx, "create", attribute.String("principal", p.Username))
	defer func() { end(err) }()

	user, err := c.owner(ctx, p)
	if err != nil {
		return nil, err
	}

	entry, err = NewEntry(draft, c.now())
	if err != nil {
		return nil, err
	}

	err = c.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := c.entries.Create(ctx, entry); err != nil {
			return err
		}
		return c.index.Append(ctx, user.ID, entry.ID)
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "create entry rolled back",
			"username", p.Username, "entry_id", entry.ID.String(), "error", err)
		return nil, inconsistent("create entry", err)
	}

	c.scheduleAudio(entry)
	c.logger.InfoContext(ctx, "entry created", "username", p.Username, "entry_id", entry.ID.String())
	return entry, nil
}

// ListEntries returns the principal's entries in insertion order. An index
// reference whose entry is missing is dropped from the index and skipped.
func (c *Coordinator) ListEntries(ctx context.Context, p auth.Principal) (summaries []Summary, err error) {
	ctx, end := startOp(ctx, "list", attribute.String("principal", p.Username))
	defer func() { end(err) }()

	user, err := c.owner(ctx, p)
	if err != nil {
		return nil, err
	}

	ids, err := c.index.List(ctx, user.ID)
	if err != nil {
		return nil, oops.Code("JOURNAL_LIST_FAILED").With("username", p.Username).Wrap(err)
	}
	if len(ids) == 0 {
		return []Summary{}, nil
	}

	found, err := c.entries.GetMany(ctx, ids)
	if err != nil {
		return nil, oops.Code("JOURNAL_LIST_FAILED").With("username", p.Username).Wrap(err)
	}

	summaries = make([]Summary, 0, len(ids))
	for _, id := range ids {
		entry, ok := found[id]
		if !ok {
			c.repair(ctx, user.ID, id)
			continue
		}
		summaries = append(summaries, entry.Summary())
	}
	return summaries, nil
}

// GetEntry returns an entry owned by the principal. Ownership is checked
// before existence so a foreign id looks the same as a missing one.
func (c *Coordinator) GetEntry(ctx context.Context, p auth.Principal, id ulid.ULID) (entry *Entry, err error) {
	ctx, end := startOp(ctx, "get", attribute.String("principal", p.Username), attribute.String("entry_id", id.String()))
	defer func() { end(err) }()

	user, err := c.owner(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.ownedEntry(ctx, user.ID, id)
}

func (c *Coordinator) ownedEntry(ctx context.Context, userID, id ulid.ULID) (*Entry, error) {
	owns, err := c.index.Owns(ctx, userID, id)
	if err != nil {
		return nil, oops.Code("JOURNAL_OWNERSHIP_CHECK_FAILED").With("entry_id", id.String()).Wrap(err)
	}
	if !owns {
		return nil, notFound(id.String())
	}

	entry, err := c.entries.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		c.repair(ctx, userID, id)
		return nil, notFound(id.String())
	}
	if err != nil {
		return nil, oops.Code("JOURNAL_GET_FAILED").With("entry_id", id.String()).Wrap(err)
	}
	return entry, nil
}

// UpdateEntry applies a partial patch to an entry owned by the principal.
// A text change bumps the version and queues audio regeneration.
func (c *Coordinator) UpdateEntry(ctx context.Context, p auth.Principal, id ulid.ULID, patch Patch) (entry *Entry, err error) {
	ctx, end := startOp(ctx, "update", attribute.String("principal", p.Username), attribute.String("entry_id", id.String()))
	defer func() { end(err) }()

	user, err := c.owner(ctx, p)
	if err != nil {
		return nil, err
	}

	changed := false
	backoff := retry.WithMaxRetries(maxUpdateAttempts-1, retry.NewConstant(5*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := c.ownedEntry(ctx, user.ID, id)
		if err != nil {
			return err
		}
		changed, err = current.Apply(patch, c.now())
		if err != nil {
			return err
		}
		entry = current
		if !changed {
			return nil
		}
		err = c.entries.Update(ctx, current)
		switch {
		case errors.Is(err, ErrStaleVersion):
			return retry.RetryableError(err)
		case errors.Is(err, ErrNotFound):
			return notFound(id.String())
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidEntry) {
			return nil, err
		}
		return nil, oops.Code("JOURNAL_UPDATE_FAILED").With("entry_id", id.String()).Wrap(err)
	}

	if changed {
		c.scheduleAudio(entry)
		c.logger.InfoContext(ctx, "entry updated",
			"username", p.Username, "entry_id", id.String(), "version", entry.Version)
	}
	return entry, nil
}

// DeleteEntry removes the entry from the principal's list and deletes it in
// one transaction.
func (c *Coordinator) DeleteEntry(ctx context.Context, p auth.Principal, id ulid.ULID) (err error) {
	ctx, end := startOp(ctx, "delete", attribute.String("principal", p.Username), attribute.String("entry_id", id.String()))
	defer func() { end(err) }()

	user, err := c.owner(ctx, p)
	if err != nil {
		return err
	}

	err = c.tx.InTransaction(ctx, func(ctx context.Context) error {
		removed, err := c.index.Remove(ctx, user.ID, id)
		if err != nil {
			return err
		}
		if !removed {
			return notFound(id.String())
		}
		// A missing row means a dangling reference, which removing it just fixed.
		if err := c.entries.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "delete entry rolled back",
			"username", p.Username, "entry_id", id.String(), "error", err)
		return inconsistent("delete entry", err)
	}

	c.logger.InfoContext(ctx, "entry deleted", "username", p.Username, "entry_id", id.String())
	return nil
}

// DeleteUser deletes the principal's account together with every entry it
// owns, in one transaction.
func (c *Coordinator) DeleteUser(ctx context.Context, p auth.Principal) (err error) {
	ctx, end := startOp(ctx, "delete_user", attribute.String("principal", p.Username))
	defer func() { end(err) }()

	user, err := c.owner(ctx, p)
	if err != nil {
		return err
	}

	var deleted int
	err = c.tx.InTransaction(ctx, func(ctx context.Context) error {
		ids, err := c.index.RemoveAll(ctx, user.ID)
		if err != nil {
			return err
		}
		if deleted, err = c.entries.DeleteMany(ctx, ids); err != nil {
			return err
		}
		return c.users.Delete(ctx, user.ID)
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "delete user rolled back", "username", p.Username, "error", err)
		return inconsistent("delete user", err)
	}

	c.logger.InfoContext(ctx, "user deleted", "username", p.Username, "entries_deleted", deleted)
	return nil
}

// CollectOrphans deletes entries created more than grace ago that no user
// owns, and returns how many were removed. The grace period keeps entries of
// in-flight creates out of reach on stores without transactions.
func (c *Coordinator) CollectOrphans(ctx context.Context, grace time.Duration) (n int, err error) {
	ctx, end := startOp(ctx, "collect_orphans", attribute.Int64("grace_ms", grace.Milliseconds()))
	defer func() { end(err) }()

	err = c.tx.InTransaction(ctx, func(ctx context.Context) error {
		ids, err := c.entries.ListOrphans(ctx, c.now().Add(-grace))
		if err != nil {
			return err
		}
		n, err = c.entries.DeleteMany(ctx, ids)
		return err
	})
	if err != nil {
		return 0, oops.Code("JOURNAL_GC_FAILED").Wrap(err)
	}

	OrphansCollected.Add(float64(n))
	if n > 0 {
		c.logger.InfoContext(ctx, "orphaned entries collected", "count", n)
	}
	return n, nil
}

// repair drops a reference to a missing entry. Failure is logged only; the
// next read tries again.
func (c *Coordinator) repair(ctx context.Context, userID, entryID ulid.ULID) {
	if _, err := c.index.Remove(ctx, userID, entryID); err != nil {
		c.logger.WarnContext(ctx, "failed to remove dangling entry reference",
			"user_id", userID.String(), "entry_id", entryID.String(), "error", err)
		return
	}
	OwnershipRepairs.Inc()
	c.logger.WarnContext(ctx, "removed dangling entry reference",
		"user_id", userID.String(), "entry_id", entryID.String())
}

func (c *Coordinator) scheduleAudio(entry *Entry) {
	if c.audio == nil {
		return
	}
	if !c.audio.Schedule(entry.ID, entry.Version, entry.Title, entry.Content) {
		c.logger.Warn("audio worker closed, entry kept without audio", "entry_id", entry.ID.String())
	}
}
