// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/quilljournal/quill/internal/journal"
	"github.com/quilljournal/quill/internal/weather"
)

type validatable interface {
	Validate() error
}

// bind decodes the JSON body into req and validates it. On failure the
// response is written and bind returns false.
func bind[T validatable](c *gin.Context, req *T) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		invalid(c, err)
		return false
	}
	if err := (*req).Validate(); err != nil {
		invalid(c, err)
		return false
	}
	return true
}

// entryID parses the :id path segment. An unparseable id is reported like
// a missing entry.
func (s *server) entryID(c *gin.Context) (ulid.ULID, bool) {
	id, err := ulid.ParseStrict(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: apiError{Code: "NOT_FOUND", Message: "entry not found"}})
		return ulid.ULID{}, false
	}
	return id, true
}

func (s *server) healthCheck(c *gin.Context) {
	c.String(http.StatusOK, "health-Check")
}

func (s *server) signup(c *gin.Context) {
	var req credentialsRequest
	if !bind(c, &req) {
		return
	}
	user, err := s.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserResponse(user))
}

func (s *server) login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	pair, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		JWT:          pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		TokenType:    "Bearer",
		ExpiresAt:    pair.Access.ExpiresAt,
	})
}

func (s *server) refreshToken(c *gin.Context) {
	var req refreshRequest
	if !bind(c, &req) {
		return
	}
	token, err := s.auth.Refresh(c.Request.Context(), req.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		JWT:       token.Value,
		TokenType: "Bearer",
		ExpiresAt: token.ExpiresAt,
	})
}

func (s *server) listEntries(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	summaries, err := s.journal.ListEntries(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]entryResponse, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, newSummaryResponse(sum))
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) createEntry(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	var req createEntryRequest
	if !bind(c, &req) {
		return
	}
	entry, err := s.journal.CreateEntry(c.Request.Context(), p, journal.Draft{Title: req.Title, Content: req.Content})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newEntryResponse(entry))
}

func (s *server) getEntry(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	id, ok := s.entryID(c)
	if !ok {
		return
	}
	entry, err := s.journal.GetEntry(c.Request.Context(), p, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntryResponse(entry))
}

func (s *server) updateEntry(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	id, ok := s.entryID(c)
	if !ok {
		return
	}
	var req updateEntryRequest
	if !bind(c, &req) {
		return
	}
	entry, err := s.journal.UpdateEntry(c.Request.Context(), p, id, journal.Patch{Title: req.Title, Content: req.Content})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntryResponse(entry))
}

func (s *server) deleteEntry(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	id, ok := s.entryID(c)
	if !ok {
		return
	}
	if err := s.journal.DeleteEntry(c.Request.Context(), p, id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) entryAudio(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	id, ok := s.entryID(c)
	if !ok {
		return
	}
	entry, err := s.journal.GetEntry(c.Request.Context(), p, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !entry.HasAudio() {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: apiError{Code: "NOT_FOUND", Message: "entry has no audio"}})
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", entry.Audio)
}

func (s *server) changePassword(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	var req passwordRequest
	if !bind(c, &req) {
		return
	}
	if err := s.auth.ChangePassword(c.Request.Context(), p, req.Password); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) deleteUser(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	if err := s.journal.DeleteUser(c.Request.Context(), p); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) greeting(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	if s.greeter == nil {
		c.String(http.StatusOK, weather.Greeting(p.Username, nil))
		return
	}
	c.String(http.StatusOK, s.greeter.Greeting(c.Request.Context(), p.Username))
}

func (s *server) listUsers(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	users, err := s.auth.ListUsers(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) createAdmin(c *gin.Context) {
	p, ok := s.principal(c)
	if !ok {
		return
	}
	var req credentialsRequest
	if !bind(c, &req) {
		return
	}
	user, err := s.auth.RegisterAdmin(c.Request.Context(), p, req.Username, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserResponse(user))
}
