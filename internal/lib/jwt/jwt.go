package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDClaim is the claim every payload must carry.
const UserIDClaim = "userId"

const defaultAlgorithm = "HS256"

var (
	ErrEmptySecret          = errors.New("secret must have a value")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrKeyMismatch          = errors.New("key does not match algorithm")
	ErrClaimConflict        = errors.New("option conflicts with payload claim")
	ErrInvalidToken         = errors.New("invalid token")
)

// Payload is the set of claims carried by a signed token.
type Payload map[string]any

// UserID returns the user id claim as a string, or "" when it is missing.
func (p Payload) UserID() string {
	v, ok := p[UserIDClaim]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// SignOptions configures Sign. Zero values leave the matching claim out.
type SignOptions struct {
	Algorithm   string
	ExpiresIn   time.Duration
	NotBefore   time.Duration
	Audience    []string
	Issuer      string
	Subject     string
	JWTID       string
	KeyID       string
	NoTimestamp bool
	Header      map[string]any
}

// ParseOptions configures Parse.
type ParseOptions struct {
	// Algorithms accepted; derived from the secret when empty.
	Algorithms []string
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

// Sign builds the claim set from payload and opts and signs it with secret.
func Sign(payload Payload, secret any, opts SignOptions) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}

	alg := opts.Algorithm
	if alg == "" {
		alg = defaultAlgorithm
	}
	method, err := signingMethod(alg)
	if err != nil {
		return "", err
	}

	key, err := signingKey(method, secret)
	if err != nil {
		return "", err
	}

	claims, err := buildClaims(payload, opts, time.Now())
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(method, claims)
	if opts.KeyID != "" {
		token.Header["kid"] = opts.KeyID
	}
	for k, v := range opts.Header {
		if k == "alg" {
			continue
		}
		token.Header[k] = v
	}

	signed, err := token.SignedString(key)
	if err != nil {
		if errors.Is(err, jwt.ErrInvalidKey) || errors.Is(err, jwt.ErrInvalidKeyType) {
			return "", fmt.Errorf("%w: %w", ErrKeyMismatch, err)
		}
		return "", err
	}

	return signed, nil
}

// Parse verifies tokenString with secret and returns its claims.
func Parse(tokenString string, secret any, opts ParseOptions) (Payload, error) {
	algs := opts.Algorithms
	if len(algs) == 0 {
		algs = defaultAlgorithms(secret)
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods(algs)}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(opts.Leeway))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return verifyingKey(token.Method, secret)
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return Payload(claims), nil
}

func validatePayload(payload Payload) error {
	if payload == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	v, ok := payload[UserIDClaim]
	if !ok || v == nil {
		return fmt.Errorf("%w: %s is required", ErrInvalidPayload, UserIDClaim)
	}
	if s, ok := v.(string); ok && s == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidPayload, UserIDClaim)
	}
	return nil
}

func buildClaims(payload Payload, opts SignOptions, now time.Time) (jwt.MapClaims, error) {
	conflicts := []struct {
		set   bool
		claim string
		opt   string
	}{
		{opts.ExpiresIn != 0, "exp", "ExpiresIn"},
		{opts.NotBefore != 0, "nbf", "NotBefore"},
		{len(opts.Audience) > 0, "aud", "Audience"},
		{opts.Issuer != "", "iss", "Issuer"},
		{opts.Subject != "", "sub", "Subject"},
		{opts.JWTID != "", "jti", "JWTID"},
	}
	for _, c := range conflicts {
		if _, ok := payload[c.claim]; ok && c.set {
			return nil, fmt.Errorf("%w: %s with %q claim", ErrClaimConflict, c.opt, c.claim)
		}
	}

	claims := make(jwt.MapClaims, len(payload)+6)
	for k, v := range payload {
		claims[k] = v
	}

	iat := now.Unix()
	if v, ok := numericClaim(payload["iat"]); ok {
		iat = v
	}
	if opts.NoTimestamp {
		delete(claims, "iat")
	} else {
		claims["iat"] = iat
	}

	if opts.ExpiresIn != 0 {
		claims["exp"] = iat + ceilSeconds(opts.ExpiresIn)
	}
	if opts.NotBefore != 0 {
		claims["nbf"] = iat + ceilSeconds(opts.NotBefore)
	}
	if len(opts.Audience) == 1 {
		claims["aud"] = opts.Audience[0]
	} else if len(opts.Audience) > 1 {
		claims["aud"] = opts.Audience
	}
	if opts.Issuer != "" {
		claims["iss"] = opts.Issuer
	}
	if opts.Subject != "" {
		claims["sub"] = opts.Subject
	}
	if opts.JWTID != "" {
		claims["jti"] = opts.JWTID
	}

	return claims, nil
}

// ceilSeconds rounds d up to whole seconds so a positive lifetime never
// collapses onto iat.
func ceilSeconds(d time.Duration) int64 {
	s := d / time.Second
	if d%time.Second > 0 {
		s++
	}
	return int64(s)
}

func numericClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
