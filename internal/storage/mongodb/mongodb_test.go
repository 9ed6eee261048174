package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"authtoken/internal/domain/models"
	"authtoken/internal/storage"
)

// newTestStorage connects to MONGO_URI; the tests are skipped without it.
func newTestStorage(t *testing.T) (context.Context, *Storage) {
	t.Helper()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	database := "authtoken_test_" + gofakeit.LetterN(8)
	s, err := New(ctx, uri, database)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		_ = s.database.Drop(cleanupCtx)
		_ = s.Close(cleanupCtx)
		cancel()
	})

	return ctx, s
}

func TestStorage_SaveAndLoad(t *testing.T) {
	ctx, s := newTestStorage(t)

	var saved []models.TokenRecord
	s.AfterSave(func(_ context.Context, rec models.TokenRecord) { saved = append(saved, rec) })

	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	rec := models.NewTokenRecord(bson.NewObjectID())
	rec.ResetPasswordToken = gofakeit.Regex(`[0-9a-f]{64}`)
	rec.ResetPasswordExpires = expires

	require.NoError(t, s.SaveRecord(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.IsZero())
	require.Len(t, saved, 1)
	assert.Equal(t, rec.ResetPasswordToken, saved[0].ResetPasswordToken)

	got, err := s.Record(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Equal(t, rec.ResetPasswordToken, got.ResetPasswordToken)
	assert.True(t, expires.Equal(got.ResetPasswordExpires))

	byToken, err := s.RecordByResetToken(ctx, rec.ResetPasswordToken)
	require.NoError(t, err)
	assert.Equal(t, rec.UserID, byToken.UserID)
}

func TestStorage_SaveOverwritesInPlace(t *testing.T) {
	ctx, s := newTestStorage(t)

	rec := models.NewTokenRecord(bson.NewObjectID())
	rec.EmailVerificationToken = "first"
	rec.EmailVerificationExpiresToken = time.Now().Add(time.Hour)
	require.NoError(t, s.SaveRecord(ctx, rec))
	createdAt := rec.CreatedAt

	rec.ClearEmailVerification()
	rec.AccessToken = "access"
	require.NoError(t, s.SaveRecord(ctx, rec))

	got, err := s.Record(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Empty(t, got.EmailVerificationToken)
	assert.True(t, got.EmailVerificationExpiresToken.IsZero())
	assert.Equal(t, "access", got.AccessToken)
	assert.True(t, createdAt.Equal(got.CreatedAt))

	_, err = s.RecordByVerificationToken(ctx, "first")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestStorage_ClearExpiredAndDelete(t *testing.T) {
	ctx, s := newTestStorage(t)

	now := time.Now()
	rec := models.NewTokenRecord(bson.NewObjectID())
	rec.ResetPasswordToken = "expired"
	rec.ResetPasswordExpires = now.Add(-time.Minute)
	rec.EmailVerificationToken = "fresh"
	rec.EmailVerificationExpiresToken = now.Add(time.Minute)
	require.NoError(t, s.SaveRecord(ctx, rec))

	cleared, err := s.ClearExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	got, err := s.Record(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Empty(t, got.ResetPasswordToken)
	assert.Equal(t, "fresh", got.EmailVerificationToken)

	require.NoError(t, s.DeleteRecord(ctx, rec.UserID))
	assert.ErrorIs(t, s.DeleteRecord(ctx, rec.UserID), storage.ErrRecordNotFound)

	_, err = s.Record(ctx, rec.UserID)
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}
