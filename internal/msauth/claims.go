package msauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the subset of access-token claims shown to users. Values are
// display-only: the token is parsed without signature verification, which is
// fine for labeling a session but never for authorization decisions.
type Identity struct {
	UPN      string
	Name     string
	TenantID string
	ObjectID string
}

// identityClaims maps the AAD claim names onto a jwt claims type.
type identityClaims struct {
	jwt.RegisteredClaims

	UPN      string `json:"upn"`
	Name     string `json:"name"`
	TenantID string `json:"tid"`
	ObjectID string `json:"oid"`

	// Guest and personal accounts carry email instead of upn.
	Email string `json:"email"`
}

// ParseIdentity extracts display claims from an access token without
// verifying its signature.
func ParseIdentity(accessToken string) (Identity, error) {
	var claims identityClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return Identity{}, fmt.Errorf("msauth: parsing token claims: %w", err)
	}

	upn := claims.UPN
	if upn == "" {
		upn = claims.Email
	}

	return Identity{
		UPN:      upn,
		Name:     claims.Name,
		TenantID: claims.TenantID,
		ObjectID: claims.ObjectID,
	}, nil
}
