package msauth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsignedToken builds a token the way tests need one: parseable, unsigned.
func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	return signed
}

func TestParseIdentity(t *testing.T) {
	tok := unsignedToken(t, jwt.MapClaims{
		"upn":  "user@contoso.com",
		"name": "Test User",
		"tid":  "11111111-2222-3333-4444-555555555555",
		"oid":  "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
	})

	id, err := ParseIdentity(tok)
	require.NoError(t, err)

	assert.Equal(t, "user@contoso.com", id.UPN)
	assert.Equal(t, "Test User", id.Name)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", id.TenantID)
	assert.Equal(t, "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", id.ObjectID)
}

func TestParseIdentity_EmailFallback(t *testing.T) {
	tok := unsignedToken(t, jwt.MapClaims{
		"email": "guest@example.com",
		"name":  "Guest User",
	})

	id, err := ParseIdentity(tok)
	require.NoError(t, err)

	assert.Equal(t, "guest@example.com", id.UPN)
}

func TestParseIdentity_Malformed(t *testing.T) {
	_, err := ParseIdentity("not-a-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing token claims")
}
