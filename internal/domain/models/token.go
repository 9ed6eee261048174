package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// TokenRecord holds the token material attached to one user.
// Empty strings and zero times mean the field is unset.
type TokenRecord struct {
	UserID bson.ObjectID

	ResetPasswordToken   string
	ResetPasswordExpires time.Time

	EmailVerificationToken        string
	EmailVerificationExpiresToken time.Time

	AccessToken  string
	RefreshToken string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTokenRecord returns an empty record for the given user.
func NewTokenRecord(userID bson.ObjectID) *TokenRecord {
	return &TokenRecord{UserID: userID}
}

// ResetPasswordValid reports whether the reset token is set and not expired at now.
func (r *TokenRecord) ResetPasswordValid(now time.Time) bool {
	return r.ResetPasswordToken != "" && !now.After(r.ResetPasswordExpires)
}

// EmailVerificationValid reports whether the verification token is set and not expired at now.
func (r *TokenRecord) EmailVerificationValid(now time.Time) bool {
	return r.EmailVerificationToken != "" && !now.After(r.EmailVerificationExpiresToken)
}

func (r *TokenRecord) ClearPasswordReset() {
	r.ResetPasswordToken = ""
	r.ResetPasswordExpires = time.Time{}
}

func (r *TokenRecord) ClearEmailVerification() {
	r.EmailVerificationToken = ""
	r.EmailVerificationExpiresToken = time.Time{}
}

func (r *TokenRecord) ClearAuthTokens() {
	r.AccessToken = ""
	r.RefreshToken = ""
}

// ClearExpired drops every opaque token whose expiry has passed at now.
// It reports whether the record changed.
func (r *TokenRecord) ClearExpired(now time.Time) bool {
	changed := false
	if r.ResetPasswordToken != "" && now.After(r.ResetPasswordExpires) {
		r.ClearPasswordReset()
		changed = true
	}
	if r.EmailVerificationToken != "" && now.After(r.EmailVerificationExpiresToken) {
		r.ClearEmailVerification()
		changed = true
	}
	return changed
}

// TokenPair is a freshly signed access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
