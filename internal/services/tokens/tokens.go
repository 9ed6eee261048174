package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"authtoken/internal/config"
	"authtoken/internal/domain/models"
	"authtoken/internal/lib/jwt"
	"authtoken/internal/lib/sl"
	"authtoken/internal/storage"
)

type Tokens struct {
	logger         *slog.Logger
	recordSaver    RecordSaver
	recordProvider RecordProvider
	recordRemover  RecordRemover
	issuer         Issuer
	notifier       Notifier
	cfg            config.TokensConfig
	now            func() time.Time
}

type RecordSaver interface {
	SaveRecord(ctx context.Context, rec *models.TokenRecord) error
}

type RecordProvider interface {
	Record(ctx context.Context, userID bson.ObjectID) (*models.TokenRecord, error)
	RecordByResetToken(ctx context.Context, token string) (*models.TokenRecord, error)
	RecordByVerificationToken(ctx context.Context, token string) (*models.TokenRecord, error)
	RecordByRefreshToken(ctx context.Context, token string) (*models.TokenRecord, error)
}

type RecordRemover interface {
	DeleteRecord(ctx context.Context, userID bson.ObjectID) error
	ClearExpired(ctx context.Context, now time.Time) (int64, error)
}

type Issuer interface {
	GeneratePasswordReset(rec *models.TokenRecord)
	GenerateEmailVerificationToken(rec *models.TokenRecord)
	GenerateToken(ctx context.Context, payload jwt.Payload, secret any, opts jwt.SignOptions) (string, error)
}

type Notifier interface {
	SendPasswordReset(ctx context.Context, email, token string, expires time.Time) error
	SendEmailVerification(ctx context.Context, email, token string, expires time.Time) error
}

var (
	ErrRecordNotFound = errors.New("token record not found")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenNotFound  = errors.New("token not found")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
)

// New returns a new instance of the Tokens service.
func New(
	logger *slog.Logger,
	recordSaver RecordSaver,
	recordProvider RecordProvider,
	recordRemover RecordRemover,
	issuer Issuer,
	notifier Notifier,
	cfg config.TokensConfig,
) *Tokens {
	return &Tokens{
		logger:         logger,
		recordSaver:    recordSaver,
		recordProvider: recordProvider,
		recordRemover:  recordRemover,
		issuer:         issuer,
		notifier:       notifier,
		cfg:            cfg,
		now:            time.Now,
	}
}

// Record returns the token record of a user.
func (t *Tokens) Record(ctx context.Context, userID bson.ObjectID) (*models.TokenRecord, error) {
	const op = "tokens.Record"

	rec, err := t.recordProvider.Record(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

// RequestPasswordReset generates a new reset token for the user, stores it
// and mails it to email when one is given. It returns the token.
func (t *Tokens) RequestPasswordReset(ctx context.Context, userID bson.ObjectID, email string) (string, error) {
	const op = "tokens.RequestPasswordReset"
	log := t.logger.With(
		slog.String("op", op),
		slog.String("user_id", userID.Hex()),
	)
	log.Info("password reset requested")

	rec, err := t.loadOrNew(ctx, userID)
	if err != nil {
		log.Error("failed to load token record", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	t.issuer.GeneratePasswordReset(rec)

	if err := t.recordSaver.SaveRecord(ctx, rec); err != nil {
		log.Error("failed to save token record", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if email != "" {
		if err := t.notifier.SendPasswordReset(ctx, email, rec.ResetPasswordToken, rec.ResetPasswordExpires); err != nil {
			log.Error("failed to notify user", sl.Err(err))
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}

	log.Info("password reset token issued", slog.Time("expires", rec.ResetPasswordExpires))

	return rec.ResetPasswordToken, nil
}

// ValidatePasswordReset returns the owner of a live reset token.
func (t *Tokens) ValidatePasswordReset(ctx context.Context, token string) (bson.ObjectID, error) {
	const op = "tokens.ValidatePasswordReset"

	rec, err := t.resetRecord(ctx, token)
	if err != nil {
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, err)
	}

	return rec.UserID, nil
}

// ConsumePasswordReset validates a reset token and clears it so it cannot be reused.
func (t *Tokens) ConsumePasswordReset(ctx context.Context, token string) (bson.ObjectID, error) {
	const op = "tokens.ConsumePasswordReset"
	log := t.logger.With(slog.String("op", op))

	rec, err := t.resetRecord(ctx, token)
	if err != nil {
		log.Warn("password reset token rejected", sl.Err(err))
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, err)
	}

	rec.ClearPasswordReset()

	if err := t.recordSaver.SaveRecord(ctx, rec); err != nil {
		log.Error("failed to save token record", sl.Err(err))
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset token consumed", slog.String("user_id", rec.UserID.Hex()))

	return rec.UserID, nil
}

// RequestEmailVerification generates a new verification token for the user,
// stores it and mails it to email when one is given. It returns the token.
func (t *Tokens) RequestEmailVerification(ctx context.Context, userID bson.ObjectID, email string) (string, error) {
	const op = "tokens.RequestEmailVerification"
	log := t.logger.With(
		slog.String("op", op),
		slog.String("user_id", userID.Hex()),
	)
	log.Info("email verification requested")

	rec, err := t.loadOrNew(ctx, userID)
	if err != nil {
		log.Error("failed to load token record", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	t.issuer.GenerateEmailVerificationToken(rec)

	if err := t.recordSaver.SaveRecord(ctx, rec); err != nil {
		log.Error("failed to save token record", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if email != "" {
		if err := t.notifier.SendEmailVerification(ctx, email, rec.EmailVerificationToken, rec.EmailVerificationExpiresToken); err != nil {
			log.Error("failed to notify user", sl.Err(err))
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}

	log.Info("email verification token issued", slog.Time("expires", rec.EmailVerificationExpiresToken))

	return rec.EmailVerificationToken, nil
}

// ConfirmEmailVerification consumes a live verification token and returns its owner.
func (t *Tokens) ConfirmEmailVerification(ctx context.Context, token string) (bson.ObjectID, error) {
	const op = "tokens.ConfirmEmailVerification"
	log := t.logger.With(slog.String("op", op))

	if token == "" {
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	rec, err := t.recordProvider.RecordByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			log.Warn("verification token not found")
			return bson.NilObjectID, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
		}
		log.Error("failed to get token record", sl.Err(err))
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, err)
	}

	if !rec.EmailVerificationValid(t.now()) {
		log.Warn("verification token expired", slog.String("user_id", rec.UserID.Hex()))
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	rec.ClearEmailVerification()

	if err := t.recordSaver.SaveRecord(ctx, rec); err != nil {
		log.Error("failed to save token record", sl.Err(err))
		return bson.NilObjectID, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("email verified", slog.String("user_id", rec.UserID.Hex()))

	return rec.UserID, nil
}

// DeleteRecord drops the token record of a user.
func (t *Tokens) DeleteRecord(ctx context.Context, userID bson.ObjectID) error {
	const op = "tokens.DeleteRecord"

	if err := t.recordRemover.DeleteRecord(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return fmt.Errorf("%s: %w", op, ErrRecordNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	t.logger.Info("token record deleted", slog.String("op", op), slog.String("user_id", userID.Hex()))

	return nil
}

// SweepExpired clears every expired reset and verification token. Stores do
// not run save hooks for the bulk update, so the sweep is logged here.
func (t *Tokens) SweepExpired(ctx context.Context) (int64, error) {
	const op = "tokens.SweepExpired"

	cleared, err := t.recordRemover.ClearExpired(ctx, t.now())
	if err != nil {
		t.logger.Error("failed to sweep expired tokens", slog.String("op", op), sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	t.logger.Info("expired tokens swept", slog.String("op", op), slog.Int64("cleared", cleared))

	return cleared, nil
}

func (t *Tokens) resetRecord(ctx context.Context, token string) (*models.TokenRecord, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	rec, err := t.recordProvider.RecordByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	if !rec.ResetPasswordValid(t.now()) {
		return nil, ErrTokenExpired
	}

	return rec, nil
}

// loadOrNew returns the stored record of the user or a fresh one.
func (t *Tokens) loadOrNew(ctx context.Context, userID bson.ObjectID) (*models.TokenRecord, error) {
	rec, err := t.recordProvider.Record(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return models.NewTokenRecord(userID), nil
		}
		return nil, err
	}
	return rec, nil
}

// SaveLogger returns a save hook that logs the state of every written record.
// Secrets are reported by presence only.
func SaveLogger(logger *slog.Logger) storage.SaveHook {
	return func(ctx context.Context, rec models.TokenRecord) {
		logger.LogAttrs(ctx, slog.LevelDebug, "token record saved",
			slog.String("user_id", rec.UserID.Hex()),
			slog.Bool("reset_password", rec.ResetPasswordToken != ""),
			slog.Bool("email_verification", rec.EmailVerificationToken != ""),
			slog.Bool("access_token", rec.AccessToken != ""),
			slog.Bool("refresh_token", rec.RefreshToken != ""),
			slog.Time("updated_at", rec.UpdatedAt),
		)
	}
}
