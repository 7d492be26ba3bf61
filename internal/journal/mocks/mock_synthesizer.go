// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package mocks holds testify mocks for the journal package interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/quilljournal/quill/internal/journal"
)

// MockSynthesizer is a testify mock for journal.Synthesizer.
type MockSynthesizer struct {
	mock.Mock
}

var _ journal.Synthesizer = (*MockSynthesizer)(nil)

// NewMockSynthesizer creates a MockSynthesizer whose expectations are
// asserted when the test finishes.
func NewMockSynthesizer(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockSynthesizer {
	m := &MockSynthesizer{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Synthesize provides a mock function.
func (m *MockSynthesizer) Synthesize(ctx context.Context, title, content string) ([]byte, error) {
	args := m.Called(ctx, title, content)
	audio, _ := args.Get(0).([]byte)
	return audio, args.Error(1)
}
