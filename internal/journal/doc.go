// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package journal owns journal entries and the link between a user and the
// entries they own.
//
// Entries carry no owner. The OwnershipIndex maps a user id to the ordered
// list of entry ids that user owns, and every read is scoped through it: an
// entry id the caller does not own is reported exactly like one that does
// not exist. The Coordinator is the only writer of both stores and applies
// paired writes inside a single Transactor call, so a failed mutation leaves
// neither half visible.
//
// Audio for an entry is produced after the text write commits, by an
// AudioWorker calling an external Synthesizer under a timeout. Synthesis
// failures are logged and counted, never returned to the caller.
package journal
