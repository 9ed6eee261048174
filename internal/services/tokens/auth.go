package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"authtoken/internal/config"
	"authtoken/internal/domain/models"
	"authtoken/internal/lib/jwt"
	"authtoken/internal/lib/sl"
	"authtoken/internal/storage"
)

// IssueAuthTokens signs a new access/refresh pair for the user and stores it
// on the user's record, replacing the previous pair.
func (t *Tokens) IssueAuthTokens(ctx context.Context, userID bson.ObjectID) (models.TokenPair, error) {
	const op = "tokens.IssueAuthTokens"
	log := t.logger.With(
		slog.String("op", op),
		slog.String("user_id", userID.Hex()),
	)
	log.Info("issuing auth tokens")

	rec, err := t.loadOrNew(ctx, userID)
	if err != nil {
		log.Error("failed to load token record", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := t.signPair(ctx, userID)
	if err != nil {
		log.Error("failed to sign auth tokens", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	rec.AccessToken = pair.AccessToken
	rec.RefreshToken = pair.RefreshToken

	if err := t.recordSaver.SaveRecord(ctx, rec); err != nil {
		log.Error("failed to save token record", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("auth tokens issued")

	return pair, nil
}

// RefreshAuthTokens exchanges the current refresh token of a user for a new
// pair. Any refresh token other than the stored one is treated as revoked.
func (t *Tokens) RefreshAuthTokens(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "tokens.RefreshAuthTokens"
	log := t.logger.With(slog.String("op", op))
	log.Info("refresh request")

	userID, err := t.verify(refreshToken, t.cfg.Refresh)
	if err != nil {
		log.Warn("refresh token rejected", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	rec, err := t.recordProvider.RecordByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			log.Warn("refresh token already rotated or revoked", slog.String("user_id", userID.Hex()))
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
		}
		log.Error("failed to get token record", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if rec.UserID != userID {
		log.Warn("refresh token owner mismatch", slog.String("user_id", userID.Hex()))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	pair, err := t.signPair(ctx, userID)
	if err != nil {
		log.Error("failed to sign auth tokens", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	rec.AccessToken = pair.AccessToken
	rec.RefreshToken = pair.RefreshToken

	if err := t.recordSaver.SaveRecord(ctx, rec); err != nil {
		log.Error("failed to save token record", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed", slog.String("user_id", userID.Hex()))

	return pair, nil
}

// ValidateAccessToken verifies an access token and checks it is still the
// one stored for its owner. It returns the owner.
func (t *Tokens) ValidateAccessToken(ctx context.Context, accessToken string) (bson.ObjectID, error) {
	const op = "tokens.ValidateAccessToken"

	userID, err := t.verify(accessToken, t.cfg.Access)
	if err != nil {
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, err)
	}

	rec, err := t.recordProvider.Record(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return bson.NilObjectID, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
		}
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, err)
	}

	if rec.AccessToken != accessToken {
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}

	return userID, nil
}

// RevokeAuthTokens drops the stored access/refresh pair of a user.
func (t *Tokens) RevokeAuthTokens(ctx context.Context, userID bson.ObjectID) error {
	const op = "tokens.RevokeAuthTokens"
	log := t.logger.With(
		slog.String("op", op),
		slog.String("user_id", userID.Hex()),
	)

	rec, err := t.recordProvider.Record(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			log.Warn("token record not found")
			return fmt.Errorf("%s: %w", op, ErrRecordNotFound)
		}
		log.Error("failed to get token record", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	rec.ClearAuthTokens()

	if err := t.recordSaver.SaveRecord(ctx, rec); err != nil {
		log.Error("failed to save token record", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("auth tokens revoked")

	return nil
}

// signPair signs an access and a refresh token for userID. Refresh tokens
// carry a random jti so two pairs signed within the same second differ.
func (t *Tokens) signPair(ctx context.Context, userID bson.ObjectID) (models.TokenPair, error) {
	if t.cfg.SignTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.SignTimeout)
		defer cancel()
	}

	payload := jwt.Payload{jwt.UserIDClaim: userID.Hex()}

	access, err := t.issuer.GenerateToken(ctx, payload, t.cfg.Access.Secret, signOptions(t.cfg.Access, ""))
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("access token: %w", err)
	}

	refresh, err := t.issuer.GenerateToken(ctx, payload, t.cfg.Refresh.Secret, signOptions(t.cfg.Refresh, uuid.NewString()))
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("refresh token: %w", err)
	}

	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// verify parses token with the signer setup of cfg and returns its owner.
func (t *Tokens) verify(token string, cfg config.SignerConfig) (bson.ObjectID, error) {
	if token == "" {
		return bson.NilObjectID, ErrInvalidToken
	}

	opts := jwt.ParseOptions{
		Algorithms: []string{cfg.Algorithm},
		Issuer:     cfg.Issuer,
	}
	if len(cfg.Audience) > 0 {
		opts.Audience = cfg.Audience[0]
	}

	claims, err := jwt.Parse(token, cfg.Secret, opts)
	if err != nil {
		return bson.NilObjectID, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := bson.ObjectIDFromHex(claims.UserID())
	if err != nil {
		return bson.NilObjectID, fmt.Errorf("%w: user id: %w", ErrInvalidToken, err)
	}

	return userID, nil
}

func signOptions(cfg config.SignerConfig, jwtID string) jwt.SignOptions {
	return jwt.SignOptions{
		Algorithm: cfg.Algorithm,
		ExpiresIn: cfg.TTL,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		JWTID:     jwtID,
	}
}
