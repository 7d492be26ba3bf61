// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Username string
	Roles    []Role
}

// Has reports whether the principal holds role.
func (p Principal) Has(role Role) bool {
	return hasRole(p.Roles, role)
}

// IsZero reports whether the principal is unpopulated.
func (p Principal) IsZero() bool {
	return p.Username == ""
}

func hasRole(roles []Role, role Role) bool {
	for _, r := range roles {
		switch r {
		case RoleUser, RoleAdmin:
			if r == role {
				return true
			}
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored in ctx, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.IsZero() {
		return Principal{}, false
	}
	return p, true
}

// RequirePrincipal returns the principal stored in ctx or ErrUnauthenticated.
func RequirePrincipal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, oops.Code("AUTH_UNAUTHENTICATED").Wrap(ErrUnauthenticated)
	}
	return p, nil
}
