package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	ti := newTokenIssuer("s3cret", time.Hour)
	raw, exp, err := ti.Issue(42)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	id, err := ti.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestTokenRejected(t *testing.T) {
	ti := newTokenIssuer("s3cret", time.Hour)
	raw, _, err := ti.Issue(42)
	require.NoError(t, err)

	expired := newTokenIssuer("s3cret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "42",
		Issuer:    "epitrello",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		issuer *tokenIssuer
		raw    string
	}{
		{"wrong secret", newTokenIssuer("other", time.Hour), raw},
		{"expired", expired, raw},
		{"garbage", ti, "not.a.token"},
		{"alg none", ti, unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.issuer.Parse(tt.raw)
			require.ErrorIs(t, err, ErrUnauthenticated)
			assert.Equal(t, 401, toAPIError(err).Status)
		})
	}
}
