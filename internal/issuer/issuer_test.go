package issuer

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"authtoken/internal/domain/models"
	"authtoken/internal/lib/jwt"
)

var hexToken = regexp.MustCompile(`^[0-9a-f]{64}$`)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGeneratePasswordReset_AtEpoch(t *testing.T) {
	iss := New(WithClock(fixedClock(time.UnixMilli(0))))
	rec := models.NewTokenRecord(bson.NewObjectID())

	iss.GeneratePasswordReset(rec)

	assert.Regexp(t, hexToken, rec.ResetPasswordToken)
	assert.Equal(t, int64(3600000), rec.ResetPasswordExpires.UnixMilli())
	assert.Empty(t, rec.EmailVerificationToken)
}

func TestGenerateEmailVerificationToken_AtEpoch(t *testing.T) {
	iss := New(WithClock(fixedClock(time.UnixMilli(0))))
	rec := models.NewTokenRecord(bson.NewObjectID())

	iss.GenerateEmailVerificationToken(rec)

	assert.Regexp(t, hexToken, rec.EmailVerificationToken)
	assert.Equal(t, int64(3600000), rec.EmailVerificationExpiresToken.UnixMilli())
	assert.Empty(t, rec.ResetPasswordToken)
}

func TestGenerators_WallClockExpiry(t *testing.T) {
	iss := New()
	rec := models.NewTokenRecord(bson.NewObjectID())

	before := time.Now()
	iss.GeneratePasswordReset(rec)
	iss.GenerateEmailVerificationToken(rec)
	after := time.Now()

	for _, exp := range []time.Time{rec.ResetPasswordExpires, rec.EmailVerificationExpiresToken} {
		assert.False(t, exp.Before(before.Add(SecretTTL)))
		assert.False(t, exp.After(after.Add(SecretTTL)))
	}
}

func TestGenerators_Distinct(t *testing.T) {
	const trials = 1000

	iss := New()
	rec := models.NewTokenRecord(bson.NewObjectID())
	seen := make(map[string]struct{}, 2*trials)

	for i := 0; i < trials; i++ {
		iss.GeneratePasswordReset(rec)
		iss.GenerateEmailVerificationToken(rec)

		require.Regexp(t, hexToken, rec.ResetPasswordToken)
		require.Regexp(t, hexToken, rec.EmailVerificationToken)

		seen[rec.ResetPasswordToken] = struct{}{}
		seen[rec.EmailVerificationToken] = struct{}{}
	}

	assert.Len(t, seen, 2*trials)
}

func TestGeneratePasswordReset_Overwrites(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	iss := New(WithClock(func() time.Time { return clock }))
	rec := models.NewTokenRecord(bson.NewObjectID())

	iss.GeneratePasswordReset(rec)
	first := rec.ResetPasswordToken

	clock = now.Add(10 * time.Minute)
	iss.GeneratePasswordReset(rec)

	assert.NotEqual(t, first, rec.ResetPasswordToken)
	assert.Equal(t, now.Add(10*time.Minute+time.Hour), rec.ResetPasswordExpires)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerators_RandomFailurePanics(t *testing.T) {
	iss := New(WithRand(failingReader{}))
	rec := models.NewTokenRecord(bson.NewObjectID())

	assert.Panics(t, func() { iss.GeneratePasswordReset(rec) })
	assert.Panics(t, func() { iss.GenerateEmailVerificationToken(rec) })
	assert.Empty(t, rec.ResetPasswordToken)
}

func TestGenerateToken_RoundTrip(t *testing.T) {
	iss := New()

	token, err := iss.GenerateToken(
		context.Background(),
		jwt.Payload{jwt.UserIDClaim: "u1"},
		"secret123",
		jwt.SignOptions{ExpiresIn: time.Hour},
	)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := jwt.Parse(token, "secret123", jwt.ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, "u1", claims[jwt.UserIDClaim])
	assert.Contains(t, claims, "exp")
}

func TestGenerateToken_FailCases(t *testing.T) {
	iss := New()

	tests := []struct {
		name    string
		payload jwt.Payload
		secret  any
		opts    jwt.SignOptions
		cause   error
	}{
		{name: "Empty secret", payload: jwt.Payload{jwt.UserIDClaim: "u1"}, secret: "", cause: jwt.ErrEmptySecret},
		{name: "Type mismatched secret", payload: jwt.Payload{jwt.UserIDClaim: "u1"}, secret: 3.14, cause: jwt.ErrKeyMismatch},
		{name: "Malformed payload", payload: jwt.Payload{}, secret: "k", cause: jwt.ErrInvalidPayload},
		{name: "Algorithm mismatch", payload: jwt.Payload{jwt.UserIDClaim: "u1"}, secret: "k", opts: jwt.SignOptions{Algorithm: "ES256"}, cause: jwt.ErrKeyMismatch},
		{name: "Truncated ed25519 key", payload: jwt.Payload{jwt.UserIDClaim: "u1"}, secret: ed25519.PrivateKey{1, 2, 3}, opts: jwt.SignOptions{Algorithm: "EdDSA"}, cause: jwt.ErrKeyMismatch},
		{name: "Zero rsa key", payload: jwt.Payload{jwt.UserIDClaim: "u1"}, secret: &rsa.PrivateKey{}, opts: jwt.SignOptions{Algorithm: "RS256"}, cause: jwt.ErrKeyMismatch},
		{name: "Zero rsa key for PSS", payload: jwt.Payload{jwt.UserIDClaim: "u1"}, secret: &rsa.PrivateKey{}, opts: jwt.SignOptions{Algorithm: "PS256"}, cause: jwt.ErrKeyMismatch},
		{name: "Zero ecdsa key", payload: jwt.Payload{jwt.UserIDClaim: "u1"}, secret: &ecdsa.PrivateKey{}, opts: jwt.SignOptions{Algorithm: "ES256"}, cause: jwt.ErrKeyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := iss.GenerateToken(context.Background(), tt.payload, tt.secret, tt.opts)
			require.Error(t, err)
			assert.Empty(t, token)

			var signErr *SigningError
			require.ErrorAs(t, err, &signErr)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestGenerateToken_ContextDone(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	iss := New(WithSigner(func(jwt.Payload, any, jwt.SignOptions) (string, error) {
		<-release
		return "late", nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	token, err := iss.GenerateToken(ctx, jwt.Payload{jwt.UserIDClaim: "u1"}, "k", jwt.SignOptions{})
	assert.Empty(t, token)

	var signErr *SigningError
	require.ErrorAs(t, err, &signErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateToken_EmptySignerResult(t *testing.T) {
	iss := New(WithSigner(func(jwt.Payload, any, jwt.SignOptions) (string, error) {
		return "", nil
	}))

	_, err := iss.GenerateToken(context.Background(), jwt.Payload{jwt.UserIDClaim: "u1"}, "k", jwt.SignOptions{})

	var signErr *SigningError
	assert.ErrorAs(t, err, &signErr)
}

func TestGenerateToken_SignerPanic(t *testing.T) {
	iss := New(WithSigner(func(jwt.Payload, any, jwt.SignOptions) (string, error) {
		panic("broken key")
	}))

	var (
		token string
		err   error
	)
	require.NotPanics(t, func() {
		token, err = iss.GenerateToken(context.Background(), jwt.Payload{jwt.UserIDClaim: "u1"}, "k", jwt.SignOptions{})
	})
	assert.Empty(t, token)

	var signErr *SigningError
	require.ErrorAs(t, err, &signErr)
	assert.Contains(t, err.Error(), "broken key")
}
