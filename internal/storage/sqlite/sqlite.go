package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
	"go.mongodb.org/mongo-driver/v2/bson"

	"authtoken/internal/domain/models"
	"authtoken/internal/storage"
)

const migrationsTable = "schema_migrations"

type Storage struct {
	storage.Hooks

	db  *sql.DB
	now func() time.Time
}

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

// Migrate applies every pending migration from migrationsPath to the
// database at storagePath. It reports whether anything was applied.
func Migrate(storagePath, migrationsPath string) (bool, error) {
	const op = "storage.sqlite.Migrate"

	m, err := migrate.New(
		"file://"+migrationsPath,
		fmt.Sprintf("sqlite3://%s?x-migrations-table=%s", storagePath, migrationsTable),
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

func (s *Storage) Close(_ context.Context) error {
	return s.db.Close()
}

// SaveRecord inserts rec or overwrites the stored record of the same user.
func (s *Storage) SaveRecord(ctx context.Context, rec *models.TokenRecord) error {
	const op = "storage.sqlite.SaveRecord"

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO tokens (
			user_id,
			reset_password_token, reset_password_expires,
			email_verification_token, email_verification_expires_token,
			access_token, refresh_token,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			reset_password_token = excluded.reset_password_token,
			reset_password_expires = excluded.reset_password_expires,
			email_verification_token = excluded.email_verification_token,
			email_verification_expires_token = excluded.email_verification_expires_token,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at
		RETURNING created_at, updated_at`)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	now := s.now().UnixMilli()

	var createdAt, updatedAt int64
	err = stmt.QueryRowContext(ctx,
		rec.UserID.Hex(),
		nullString(rec.ResetPasswordToken), nullTime(rec.ResetPasswordExpires),
		nullString(rec.EmailVerificationToken), nullTime(rec.EmailVerificationExpiresToken),
		nullString(rec.AccessToken), nullString(rec.RefreshToken),
		now, now,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	s.RunAfterSave(ctx, *rec)

	return nil
}

const selectRecord = `
	SELECT user_id,
		reset_password_token, reset_password_expires,
		email_verification_token, email_verification_expires_token,
		access_token, refresh_token,
		created_at, updated_at
	FROM tokens `

func (s *Storage) Record(ctx context.Context, userID bson.ObjectID) (*models.TokenRecord, error) {
	return s.queryOne(ctx, "storage.sqlite.Record", "user_id = ?", userID.Hex())
}

func (s *Storage) RecordByResetToken(ctx context.Context, token string) (*models.TokenRecord, error) {
	return s.queryOne(ctx, "storage.sqlite.RecordByResetToken", "reset_password_token = ?", token)
}

func (s *Storage) RecordByVerificationToken(ctx context.Context, token string) (*models.TokenRecord, error) {
	return s.queryOne(ctx, "storage.sqlite.RecordByVerificationToken", "email_verification_token = ?", token)
}

func (s *Storage) RecordByRefreshToken(ctx context.Context, token string) (*models.TokenRecord, error) {
	return s.queryOne(ctx, "storage.sqlite.RecordByRefreshToken", "refresh_token = ?", token)
}

func (s *Storage) queryOne(ctx context.Context, op, where string, arg any) (*models.TokenRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+"WHERE "+where, arg)

	var (
		userID                                   string
		resetToken, verifyToken, access, refresh sql.NullString
		resetExpires, verifyExpires              sql.NullInt64
		createdAt, updatedAt                     int64
	)
	err := row.Scan(
		&userID,
		&resetToken, &resetExpires,
		&verifyToken, &verifyExpires,
		&access, &refresh,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: user id: %w", op, err)
	}

	rec := &models.TokenRecord{
		UserID:                 oid,
		ResetPasswordToken:     resetToken.String,
		EmailVerificationToken: verifyToken.String,
		AccessToken:            access.String,
		RefreshToken:           refresh.String,
		CreatedAt:              time.UnixMilli(createdAt),
		UpdatedAt:              time.UnixMilli(updatedAt),
	}
	if resetExpires.Valid {
		rec.ResetPasswordExpires = time.UnixMilli(resetExpires.Int64)
	}
	if verifyExpires.Valid {
		rec.EmailVerificationExpiresToken = time.UnixMilli(verifyExpires.Int64)
	}

	return rec, nil
}

func (s *Storage) DeleteRecord(ctx context.Context, userID bson.ObjectID) error {
	const op = "storage.sqlite.DeleteRecord"

	res, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE user_id = ?", userID.Hex())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
	}

	return nil
}

// ClearExpired nulls every reset and verification token expired at now and
// returns how many token pairs were cleared.
func (s *Storage) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.sqlite.ClearExpired"

	queries := []string{
		`UPDATE tokens SET reset_password_token = NULL, reset_password_expires = NULL, updated_at = ?
			WHERE reset_password_expires IS NOT NULL AND reset_password_expires < ?`,
		`UPDATE tokens SET email_verification_token = NULL, email_verification_expires_token = NULL, updated_at = ?
			WHERE email_verification_expires_token IS NOT NULL AND email_verification_expires_token < ?`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	var cleared int64
	for _, q := range queries {
		res, err := tx.ExecContext(ctx, q, s.now().UnixMilli(), now.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		cleared += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return cleared, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v time.Time) sql.NullInt64 {
	return sql.NullInt64{Int64: v.UnixMilli(), Valid: !v.IsZero()}
}
