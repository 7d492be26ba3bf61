// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package mocks holds testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/quilljournal/quill/internal/auth"
)

// MockUserRepository is a testify mock for auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

var _ auth.UserRepository = (*MockUserRepository)(nil)

// NewMockUserRepository creates a MockUserRepository whose expectations are
// asserted when the test finishes.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// GetByID provides a mock function.
func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	args := m.Called(ctx, id)
	return userArg(args, 0), args.Error(1)
}

// GetByUsername provides a mock function.
func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	args := m.Called(ctx, username)
	return userArg(args, 0), args.Error(1)
}

// List provides a mock function.
func (m *MockUserRepository) List(ctx context.Context) ([]*auth.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]*auth.User)
	return users, args.Error(1)
}

// RecordLoginFailure provides a mock function.
func (m *MockUserRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID) (int, *time.Time, error) {
	args := m.Called(ctx, id)
	lockedUntil, _ := args.Get(1).(*time.Time)
	return args.Int(0), lockedUntil, args.Error(2)
}

// ResetLoginFailures provides a mock function.
func (m *MockUserRepository) ResetLoginFailures(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// SetPasswordHash provides a mock function.
func (m *MockUserRepository) SetPasswordHash(ctx context.Context, id ulid.ULID, hash string) error {
	args := m.Called(ctx, id, hash)
	return args.Error(0)
}

// UpgradePasswordHash provides a mock function.
func (m *MockUserRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error) {
	args := m.Called(ctx, id, oldHash, newHash)
	return args.Bool(0), args.Error(1)
}

// Delete provides a mock function.
func (m *MockUserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func userArg(args mock.Arguments, i int) *auth.User {
	u, _ := args.Get(i).(*auth.User)
	return u
}
