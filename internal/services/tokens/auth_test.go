package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"authtoken/internal/issuer"
	"authtoken/internal/lib/jwt"
)

func TestIssueAuthTokens(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	userID := bson.NewObjectID()

	issueTime := time.Now()
	pair, err := s.svc.IssueAuthTokens(ctx, userID)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	access, err := jwt.Parse(pair.AccessToken, testTokensConfig.Access.Secret, jwt.ParseOptions{Issuer: "authtoken"})
	require.NoError(t, err)
	assert.Equal(t, userID.Hex(), access.UserID())

	const deltaSeconds = 1
	assert.InDelta(t, issueTime.Add(testTokensConfig.Access.TTL).Unix(), access["exp"].(float64), deltaSeconds)

	refresh, err := jwt.Parse(pair.RefreshToken, testTokensConfig.Refresh.Secret, jwt.ParseOptions{Audience: "refresh"})
	require.NoError(t, err)
	assert.Equal(t, userID.Hex(), refresh.UserID())
	assert.NotEmpty(t, refresh["jti"])
	assert.InDelta(t, issueTime.Add(testTokensConfig.Refresh.TTL).Unix(), refresh["exp"].(float64), deltaSeconds)

	_, err = jwt.Parse(pair.AccessToken, testTokensConfig.Refresh.Secret, jwt.ParseOptions{})
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)

	rec, err := s.svc.Record(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, pair.AccessToken, rec.AccessToken)
	assert.Equal(t, pair.RefreshToken, rec.RefreshToken)

	owner, err := s.svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, owner)
}

func TestRefreshAuthTokens_Rotation(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	userID := bson.NewObjectID()

	first, err := s.svc.IssueAuthTokens(ctx, userID)
	require.NoError(t, err)

	second, err := s.svc.RefreshAuthTokens(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = s.svc.RefreshAuthTokens(ctx, first.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	assert.Contains(t, err.Error(), "revoked")

	third, err := s.svc.RefreshAuthTokens(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, third.AccessToken)

	_, err = s.svc.ValidateAccessToken(ctx, third.AccessToken)
	assert.NoError(t, err)
}

func TestRefreshAuthTokens_FailCases(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)

	accessOnly, err := s.svc.IssueAuthTokens(ctx, bson.NewObjectID())
	require.NoError(t, err)

	foreign, err := jwt.Sign(jwt.Payload{jwt.UserIDClaim: bson.NewObjectID().Hex()}, "other-secret", jwt.SignOptions{
		ExpiresIn: time.Hour,
		Issuer:    "authtoken",
		Audience:  []string{"refresh"},
	})
	require.NoError(t, err)

	notAnObjectID, err := jwt.Sign(jwt.Payload{jwt.UserIDClaim: "u1"}, testTokensConfig.Refresh.Secret, jwt.SignOptions{
		ExpiresIn: time.Hour,
		Issuer:    "authtoken",
		Audience:  []string{"refresh"},
	})
	require.NoError(t, err)

	unknownUser, err := jwt.Sign(jwt.Payload{jwt.UserIDClaim: bson.NewObjectID().Hex()}, testTokensConfig.Refresh.Secret, jwt.SignOptions{
		ExpiresIn: time.Hour,
		Issuer:    "authtoken",
		Audience:  []string{"refresh"},
	})
	require.NoError(t, err)

	tests := []struct {
		name        string
		token       string
		expectedErr error
	}{
		{name: "Empty refresh token", token: "", expectedErr: ErrInvalidToken},
		{name: "Garbage refresh token", token: "invalid-token-that-does-not-exist", expectedErr: ErrInvalidToken},
		{name: "Access token used as refresh", token: accessOnly.AccessToken, expectedErr: ErrInvalidToken},
		{name: "Signed with another secret", token: foreign, expectedErr: ErrInvalidToken},
		{name: "User id is not an object id", token: notAnObjectID, expectedErr: ErrInvalidToken},
		{name: "Not the stored refresh token", token: unknownUser, expectedErr: ErrTokenRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.svc.RefreshAuthTokens(ctx, tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestRevokeAuthTokens(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	userID := bson.NewObjectID()

	pair, err := s.svc.IssueAuthTokens(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, s.svc.RevokeAuthTokens(ctx, userID))

	_, err = s.svc.RefreshAuthTokens(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = s.svc.ValidateAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	assert.ErrorIs(t, s.svc.RevokeAuthTokens(ctx, bson.NewObjectID()), ErrRecordNotFound)
}

func TestIssueAuthTokens_SigningFailure(t *testing.T) {
	s := newSuite(t)
	s.svc.cfg.Access.Secret = ""
	s.svc.issuer = issuer.New()

	userID := bson.NewObjectID()
	_, err := s.svc.IssueAuthTokens(context.Background(), userID)
	require.Error(t, err)

	var signErr *issuer.SigningError
	assert.ErrorAs(t, err, &signErr)
	assert.ErrorIs(t, err, jwt.ErrEmptySecret)

	_, err = s.svc.Record(context.Background(), userID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
