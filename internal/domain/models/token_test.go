package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestTokenRecord_Validity(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   string
		expires time.Time
		want    bool
	}{
		{name: "unset", token: "", expires: now.Add(time.Hour), want: false},
		{name: "in the future", token: "abc", expires: now.Add(time.Minute), want: true},
		{name: "exactly now", token: "abc", expires: now, want: true},
		{name: "expired", token: "abc", expires: now.Add(-time.Nanosecond), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewTokenRecord(bson.NewObjectID())
			rec.ResetPasswordToken = tt.token
			rec.ResetPasswordExpires = tt.expires
			rec.EmailVerificationToken = tt.token
			rec.EmailVerificationExpiresToken = tt.expires

			assert.Equal(t, tt.want, rec.ResetPasswordValid(now))
			assert.Equal(t, tt.want, rec.EmailVerificationValid(now))
		})
	}
}

func TestTokenRecord_ClearExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rec := NewTokenRecord(bson.NewObjectID())
	rec.ResetPasswordToken = "reset"
	rec.ResetPasswordExpires = now.Add(-time.Second)
	rec.EmailVerificationToken = "verify"
	rec.EmailVerificationExpiresToken = now.Add(time.Second)
	rec.AccessToken = "access"

	assert.True(t, rec.ClearExpired(now))
	assert.Empty(t, rec.ResetPasswordToken)
	assert.True(t, rec.ResetPasswordExpires.IsZero())
	assert.Equal(t, "verify", rec.EmailVerificationToken)
	assert.Equal(t, "access", rec.AccessToken)

	assert.False(t, rec.ClearExpired(now))
}
