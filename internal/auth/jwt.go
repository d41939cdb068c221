// Package auth verifies the bearer access tokens issued by the hosted auth
// provider and turns them into request actors.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"

	"inzikt/internal/types"
)

// Claims is the subset of the provider's access token used here. The
// platform role lives in app_metadata, which users cannot edit.
type Claims struct {
	Email       string `json:"email"`
	Role        string `json:"role"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 access tokens.
type JWTAuthenticator struct {
	secret   []byte
	audience string
	parser   *jwt.Parser
}

func NewJWTAuthenticator(secret, audience string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret:   []byte(secret),
		audience: audience,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// ResolveToken returns the actor for a valid token. Expired tokens yield
// auth_token_expired; every other failure is auth_token_invalid.
func (a *JWTAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	var claims Claims
	_, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "access token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "access token is invalid", err)
	}
	// Service keys carry neither a subject nor the user audience.
	if claims.Role == "service_role" {
		return &types.Actor{ID: "service_role", Type: types.ActorTypeSystem, Role: types.RoleAdmin}, nil
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			fmt.Sprintf("access token is not issued for %q", a.audience), nil)
	}
	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "access token has no subject", nil)
	}

	actor := &types.Actor{
		ID:    claims.Subject,
		Type:  types.ActorTypeUser,
		Role:  types.RoleMember,
		Email: claims.Email,
	}
	if claims.AppMetadata.Role == string(types.RoleAdmin) {
		actor.Role = types.RoleAdmin
	}
	return actor, nil
}
