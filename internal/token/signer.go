package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer turns key material into a signed token.
type Signer interface {
	Sign(projectID string, issuedAt time.Time, validity time.Duration, key []byte) ([]byte, error)
}

// JWTSigner signs device JWTs with golang-jwt.
type JWTSigner struct{}

// Sign implements Signer. The algorithm follows the key type: ES256 for
// P-256 keys, RS256 for RSA keys. Other curves and key types are rejected.
func (JWTSigner) Sign(projectID string, issuedAt time.Time, validity time.Duration, key []byte) ([]byte, error) {
	method, signingKey, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{
		"iat": issuedAt.Unix(),
		"exp": issuedAt.Add(validity).Unix(),
		"aud": projectID,
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(signingKey)
	if err != nil {
		return nil, fmt.Errorf("signing device token: %w", err)
	}
	return []byte(signed), nil
}

func parseKey(pem []byte) (jwt.SigningMethod, any, error) {
	ecKey, ecErr := jwt.ParseECPrivateKeyFromPEM(pem)
	if ecErr == nil {
		return ecMethod(ecKey)
	}
	rsaKey, rsaErr := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if rsaErr == nil {
		return rsaMethod(rsaKey)
	}
	if errors.Is(ecErr, jwt.ErrKeyMustBePEMEncoded) {
		return nil, nil, fmt.Errorf("parsing private key: %w", ecErr)
	}
	return nil, nil, fmt.Errorf("parsing private key: not an EC or RSA key: %w", ecErr)
}

func ecMethod(key *ecdsa.PrivateKey) (jwt.SigningMethod, any, error) {
	if key.Curve.Params().Name != elliptic.P256().Params().Name {
		return nil, nil, fmt.Errorf("unsupported curve %s: only P-256 (ES256) is accepted", key.Curve.Params().Name)
	}
	return jwt.SigningMethodES256, key, nil
}

func rsaMethod(key *rsa.PrivateKey) (jwt.SigningMethod, any, error) {
	return jwt.SigningMethodRS256, key, nil
}
