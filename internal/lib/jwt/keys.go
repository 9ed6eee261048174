package jwt

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var pemPrefix = []byte("-----BEGIN")

func signingMethod(alg string) (jwt.SigningMethod, error) {
	if alg == "none" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	return method, nil
}

// signingKey converts secret into the private key type method expects.
func signingKey(method jwt.SigningMethod, secret any) (any, error) {
	if isEmptySecret(secret) {
		return nil, ErrEmptySecret
	}

	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		return hmacKey(secret)
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		switch k := secret.(type) {
		case *rsa.PrivateKey:
			if err := checkRSAPrivate(k); err != nil {
				return nil, err
			}
			return k, nil
		case string, []byte:
			key, err := jwt.ParseRSAPrivateKeyFromPEM(asBytes(k))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrKeyMismatch, err)
			}
			return key, nil
		}
	case *jwt.SigningMethodECDSA:
		switch k := secret.(type) {
		case *ecdsa.PrivateKey:
			if k.Curve == nil || k.D == nil || k.X == nil || k.Y == nil {
				return nil, fmt.Errorf("%w: incomplete ecdsa private key", ErrKeyMismatch)
			}
			return k, nil
		case string, []byte:
			key, err := jwt.ParseECPrivateKeyFromPEM(asBytes(k))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrKeyMismatch, err)
			}
			return key, nil
		}
	case *jwt.SigningMethodEd25519:
		switch k := secret.(type) {
		case ed25519.PrivateKey:
			if len(k) != ed25519.PrivateKeySize {
				return nil, fmt.Errorf("%w: ed25519 private key has %d bytes", ErrKeyMismatch, len(k))
			}
			return k, nil
		case string, []byte:
			key, err := jwt.ParseEdPrivateKeyFromPEM(asBytes(k))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrKeyMismatch, err)
			}
			return key, nil
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, method.Alg())
	}

	return nil, fmt.Errorf("%w: %T for %s", ErrKeyMismatch, secret, method.Alg())
}

// verifyingKey converts secret into the public key type method expects.
// Private keys are accepted and reduced to their public half.
func verifyingKey(method jwt.SigningMethod, secret any) (any, error) {
	if isEmptySecret(secret) {
		return nil, ErrEmptySecret
	}

	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		return hmacKey(secret)
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		switch k := secret.(type) {
		case *rsa.PublicKey:
			if k.N == nil || k.E == 0 {
				return nil, fmt.Errorf("%w: incomplete rsa public key", ErrKeyMismatch)
			}
			return k, nil
		case *rsa.PrivateKey:
			if k.N == nil || k.E == 0 {
				return nil, fmt.Errorf("%w: incomplete rsa private key", ErrKeyMismatch)
			}
			return &k.PublicKey, nil
		case string, []byte:
			if key, err := jwt.ParseRSAPublicKeyFromPEM(asBytes(k)); err == nil {
				return key, nil
			}
			key, err := jwt.ParseRSAPrivateKeyFromPEM(asBytes(k))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrKeyMismatch, err)
			}
			return &key.PublicKey, nil
		}
	case *jwt.SigningMethodECDSA:
		switch k := secret.(type) {
		case *ecdsa.PublicKey:
			if k.Curve == nil || k.X == nil || k.Y == nil {
				return nil, fmt.Errorf("%w: incomplete ecdsa public key", ErrKeyMismatch)
			}
			return k, nil
		case *ecdsa.PrivateKey:
			if k.Curve == nil || k.X == nil || k.Y == nil {
				return nil, fmt.Errorf("%w: incomplete ecdsa private key", ErrKeyMismatch)
			}
			return &k.PublicKey, nil
		case string, []byte:
			if key, err := jwt.ParseECPublicKeyFromPEM(asBytes(k)); err == nil {
				return key, nil
			}
			key, err := jwt.ParseECPrivateKeyFromPEM(asBytes(k))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrKeyMismatch, err)
			}
			return &key.PublicKey, nil
		}
	case *jwt.SigningMethodEd25519:
		switch k := secret.(type) {
		case ed25519.PublicKey:
			if len(k) != ed25519.PublicKeySize {
				return nil, fmt.Errorf("%w: ed25519 public key has %d bytes", ErrKeyMismatch, len(k))
			}
			return k, nil
		case ed25519.PrivateKey:
			if len(k) != ed25519.PrivateKeySize {
				return nil, fmt.Errorf("%w: ed25519 private key has %d bytes", ErrKeyMismatch, len(k))
			}
			return k.Public(), nil
		case string, []byte:
			if key, err := jwt.ParseEdPublicKeyFromPEM(asBytes(k)); err == nil {
				return key, nil
			}
			key, err := jwt.ParseEdPrivateKeyFromPEM(asBytes(k))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrKeyMismatch, err)
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, fmt.Errorf("%w: %T", ErrKeyMismatch, key)
			}
			return signer.Public(), nil
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, method.Alg())
	}

	return nil, fmt.Errorf("%w: %T for %s", ErrKeyMismatch, secret, method.Alg())
}

// checkRSAPrivate rejects keys the rsa package would panic on.
func checkRSAPrivate(k *rsa.PrivateKey) error {
	if k.N == nil || k.E == 0 || k.D == nil || len(k.Primes) < 2 {
		return fmt.Errorf("%w: incomplete rsa private key", ErrKeyMismatch)
	}
	if err := k.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrKeyMismatch, err)
	}
	return nil
}

// defaultAlgorithms picks the accepted algorithms from the kind of secret.
func defaultAlgorithms(secret any) []string {
	switch k := secret.(type) {
	case string, []byte:
		if bytes.HasPrefix(bytes.TrimSpace(asBytes(k)), pemPrefix) {
			return []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}
		}
		return []string{"HS256", "HS384", "HS512"}
	case *rsa.PublicKey, *rsa.PrivateKey:
		return []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	case *ecdsa.PublicKey, *ecdsa.PrivateKey:
		return []string{"ES256", "ES384", "ES512"}
	case ed25519.PublicKey, ed25519.PrivateKey:
		return []string{"EdDSA"}
	}
	return []string{defaultAlgorithm}
}

func hmacKey(secret any) ([]byte, error) {
	switch k := secret.(type) {
	case string:
		return []byte(k), nil
	case []byte:
		return k, nil
	}
	return nil, fmt.Errorf("%w: %T for HMAC", ErrKeyMismatch, secret)
}

func isEmptySecret(secret any) bool {
	switch k := secret.(type) {
	case nil:
		return true
	case string:
		return k == ""
	case []byte:
		return len(k) == 0
	case *rsa.PrivateKey:
		return k == nil
	case *ecdsa.PrivateKey:
		return k == nil
	case ed25519.PrivateKey:
		return len(k) == 0
	}
	return false
}

func asBytes(v any) []byte {
	switch k := v.(type) {
	case string:
		return []byte(k)
	case []byte:
		return k
	}
	return nil
}
