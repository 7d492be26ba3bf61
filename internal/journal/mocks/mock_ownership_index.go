// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/quilljournal/quill/internal/journal"
)

// MockOwnershipIndex is a testify mock for journal.OwnershipIndex.
type MockOwnershipIndex struct {
	mock.Mock
}

var _ journal.OwnershipIndex = (*MockOwnershipIndex)(nil)

// NewMockOwnershipIndex creates a MockOwnershipIndex whose expectations are
// asserted when the test finishes.
func NewMockOwnershipIndex(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockOwnershipIndex {
	m := &MockOwnershipIndex{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Append provides a mock function.
func (m *MockOwnershipIndex) Append(ctx context.Context, userID, entryID ulid.ULID) error {
	args := m.Called(ctx, userID, entryID)
	return args.Error(0)
}

// Remove provides a mock function.
func (m *MockOwnershipIndex) Remove(ctx context.Context, userID, entryID ulid.ULID) (bool, error) {
	args := m.Called(ctx, userID, entryID)
	return args.Bool(0), args.Error(1)
}

// List provides a mock function.
func (m *MockOwnershipIndex) List(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error) {
	args := m.Called(ctx, userID)
	ids, _ := args.Get(0).([]ulid.ULID)
	return ids, args.Error(1)
}

// Owns provides a mock function.
func (m *MockOwnershipIndex) Owns(ctx context.Context, userID, entryID ulid.ULID) (bool, error) {
	args := m.Called(ctx, userID, entryID)
	return args.Bool(0), args.Error(1)
}

// RemoveAll provides a mock function.
func (m *MockOwnershipIndex) RemoveAll(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error) {
	args := m.Called(ctx, userID)
	ids, _ := args.Get(0).([]ulid.ULID)
	return ids, args.Error(1)
}
