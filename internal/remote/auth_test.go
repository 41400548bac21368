package remote

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/till/internal/clock"
)

func TestSigner_RoundTrip(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	s := NewSigner("s3cret", 0, clk)

	token, err := s.Token("acme")
	require.NoError(t, err)

	claims, err := Verify("s3cret", token, clk.Now().Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.Tenant)
	assert.Equal(t, "acme", claims.Subject)
	assert.Equal(t, "till", claims.Issuer)
	assert.Equal(t, clk.Now().Add(5*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestVerify_Expired(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	token, err := NewSigner("s3cret", time.Minute, clk).Token("acme")
	require.NoError(t, err)

	_, err = Verify("s3cret", token, clk.Now().Add(2*time.Minute))
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_WrongSecret(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	token, err := NewSigner("s3cret", time.Minute, clk).Token("acme")
	require.NoError(t, err)

	_, err = Verify("other", token, clk.Now())
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Tenant: "acme"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Verify("s3cret", token, time.Now())
	assert.Error(t, err)
}
