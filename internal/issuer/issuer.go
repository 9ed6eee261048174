// Package issuer produces the token material attached to a TokenRecord:
// opaque reset and verification secrets, and signed access/refresh tokens.
package issuer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"authtoken/internal/domain/models"
	"authtoken/internal/lib/jwt"
)

const (
	// SecretBytes is the entropy of an opaque secret; it hex-encodes to 64 chars.
	SecretBytes = 32
	// SecretTTL is how long reset and verification secrets stay valid.
	SecretTTL = time.Hour
)

// SigningError is returned by GenerateToken whenever signing fails.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return "signing token: " + e.Err.Error()
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// SignFunc is the signing primitive GenerateToken delegates to.
type SignFunc func(payload jwt.Payload, secret any, opts jwt.SignOptions) (string, error)

type Issuer struct {
	now  func() time.Time
	rand io.Reader
	sign SignFunc
}

type Option func(*Issuer)

// WithClock overrides the time source used for expiries.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithRand overrides the random source used for opaque secrets.
func WithRand(r io.Reader) Option {
	return func(i *Issuer) { i.rand = r }
}

// WithSigner overrides the signing primitive.
func WithSigner(sign SignFunc) Option {
	return func(i *Issuer) { i.sign = sign }
}

// New returns an Issuer backed by crypto/rand, time.Now and jwt.Sign.
func New(opts ...Option) *Issuer {
	i := &Issuer{
		now:  time.Now,
		rand: rand.Reader,
		sign: jwt.Sign,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// GeneratePasswordReset overwrites the record's reset token and its expiry.
func (i *Issuer) GeneratePasswordReset(rec *models.TokenRecord) {
	rec.ResetPasswordToken = i.secret()
	rec.ResetPasswordExpires = i.now().Add(SecretTTL)
}

// GenerateEmailVerificationToken overwrites the record's verification token and its expiry.
func (i *Issuer) GenerateEmailVerificationToken(rec *models.TokenRecord) {
	rec.EmailVerificationToken = i.secret()
	rec.EmailVerificationExpiresToken = i.now().Add(SecretTTL)
}

// GenerateToken signs payload with secret and opts. The caller blocks until
// the signer finishes or ctx is done; the result is either a token or a
// *SigningError, never both.
func (i *Issuer) GenerateToken(
	ctx context.Context,
	payload jwt.Payload,
	secret any,
	opts jwt.SignOptions,
) (string, error) {
	type result struct {
		token string
		err   error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("signer panicked: %v", r)}
			}
		}()

		token, err := i.sign(payload, secret, opts)
		if err == nil && token == "" {
			err = fmt.Errorf("signer returned an empty token")
		}
		done <- result{token: token, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", &SigningError{Err: res.err}
		}
		return res.token, nil
	case <-ctx.Done():
		return "", &SigningError{Err: ctx.Err()}
	}
}

// secret panics when the random source fails: there is no safe fallback.
func (i *Issuer) secret() string {
	b := make([]byte, SecretBytes)
	if _, err := io.ReadFull(i.rand, b); err != nil {
		panic(fmt.Sprintf("issuer: reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
