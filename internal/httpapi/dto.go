// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package httpapi

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/journal"
)

// maxPasswordLength bounds the work an unauthenticated caller can request
// from the password hasher.
const maxPasswordLength = 1024

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r credentialsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(auth.MinUsernameLength, auth.MaxUsernameLength)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLength)),
	)
}

// loginRequest only checks presence.
type loginRequest credentialsRequest

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLength)),
	)
}

type refreshRequest struct {
	Token string `json:"token"`
}

func (r refreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (r passwordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLength)),
	)
}

type createEntryRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (r createEntryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, journal.MaxTitleLength)),
	)
}

// updateEntryRequest fields left empty keep their stored value.
type updateEntryRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (r updateEntryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Length(0, journal.MaxTitleLength)),
	)
}

type tokenResponse struct {
	JWT          string    `json:"jwt"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:        u.ID.String(),
		Username:  u.Username,
		Roles:     auth.RoleNames(u.Roles),
		CreatedAt: u.CreatedAt,
	}
}

type entryResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	HasAudio  bool      `json:"hasAudio"`
	CreatedAt time.Time `json:"date"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newEntryResponse(e *journal.Entry) entryResponse {
	return entryResponse{
		ID:        e.ID.String(),
		Title:     e.Title,
		Content:   e.Content,
		HasAudio:  e.HasAudio(),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func newSummaryResponse(s journal.Summary) entryResponse {
	return entryResponse{
		ID:        s.ID.String(),
		Title:     s.Title,
		Content:   s.Content,
		HasAudio:  s.HasAudio,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
