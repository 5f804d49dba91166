// Copyright 2026 University of Oslo
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token verifies the bearer tokens that authorize every
// operation of the file API. Tokens are HMAC-SHA256 JWTs signed with a
// per-project secret; the secret is selected by the project number in
// the request URL, never by anything inside the token itself.
package token

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
)

// Roles recognized by the API. Any other role denies all operations.
const (
	RoleAppUser    = "app_user"
	RoleExportUser = "export_user"
	RoleAdminUser  = "admin_user"
)

// DefaultMaxAge is the maximum token lifetime. Tokens whose exp lies
// further ahead than now + DefaultMaxAge are rejected as well: the
// issuer never mints longer-lived tokens, so such a token cannot be
// legitimate.
const DefaultMaxAge = time.Hour

// Claims are the claims carried by an API token.
type Claims struct {
	Role   string   `json:"role"`
	User   string   `json:"user"`
	Pnum   string   `json:"pnum"`
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

// MemberGroup returns the project's default member group.
func MemberGroup(pnum string) string {
	return pnum + "-member-group"
}

// RequireRole checks that the claims carry one of the given roles.
func (c *Claims) RequireRole(roles ...string) error {
	if slices.Contains(roles, c.Role) {
		return nil
	}
	return errtypes.WrongRole(c.Role)
}

// RequireMember checks that the claims name the given group.
func (c *Claims) RequireMember(group string) error {
	if slices.Contains(c.Groups, group) {
		return nil
	}
	return errtypes.NotAMember(group)
}

// Verifier validates bearer tokens against per-project secrets.
type Verifier struct {
	secrets map[string]string
	maxAge  time.Duration
}

// NewVerifier returns a Verifier over the given pnum -> secret map.
func NewVerifier(secrets map[string]string) *Verifier {
	return &Verifier{secrets: secrets, maxAge: DefaultMaxAge}
}

// Verify authenticates the Authorization header value for a request
// scoped to pnum. Only HS256 is accepted; alg "none" and asymmetric
// algorithms fail before signature verification.
func (v *Verifier) Verify(pnum, authorization string) (*Claims, error) {
	if authorization == "" {
		return nil, errtypes.MissingToken("no authorization header")
	}
	raw := strings.TrimPrefix(authorization, "Bearer ")
	if raw == authorization || raw == "" {
		return nil, errtypes.MissingToken("malformed authorization header")
	}

	secret, ok := v.secrets[pnum]
	if !ok {
		return nil, errtypes.WrongProject(pnum + " is not configured")
	}

	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	switch {
	case err == nil && tkn.Valid:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, errtypes.Expired(err.Error())
	default:
		return nil, errtypes.InvalidSignature("token verification failed")
	}

	if claims.ExpiresAt == nil {
		return nil, errtypes.Expired("token has no exp claim")
	}
	if claims.ExpiresAt.After(time.Now().Add(v.maxAge)) {
		return nil, errtypes.Expired("exp exceeds the maximum issuance window")
	}
	if claims.Pnum != pnum {
		return nil, errtypes.WrongProject(claims.Pnum + " != " + pnum)
	}
	return claims, nil
}

// Mint signs a token with the given secret. Used by operator tooling
// and the test suite; the API itself never mints tokens.
func Mint(secret string, c Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return t.SignedString([]byte(secret))
}

type ctxKey struct{}

// ContextSetClaims stores verified claims in the context.
func ContextSetClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ContextGetClaims returns the claims stored in the context, if any.
func ContextGetClaims(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// ContextMustGetClaims returns the claims stored in the context and
// panics if there are none. Handlers behind the auth interceptor can
// rely on the claims being present.
func ContextMustGetClaims(ctx context.Context) *Claims {
	c, ok := ContextGetClaims(ctx)
	if !ok {
		panic("no claims in context")
	}
	return c
}
