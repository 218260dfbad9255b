package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-devicelink/internal/credentials"
)

func ecKeyPEM(t *testing.T, curve elliptic.Curve) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("generating EC key: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshalling EC key: %v", err)
	}
	return key, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func rsaKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	return key, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

func bufferWith(t *testing.T, data []byte) *credentials.Buffer {
	t.Helper()
	buf := credentials.NewBuffer(4096)
	if err := buf.Fill(data); err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	return buf
}

// fixedClock returns a clock that reports at and can be advanced.
type fixedClock struct {
	at time.Time
}

func (c *fixedClock) Now() time.Time { return c.at }

func (c *fixedClock) Advance(d time.Duration) { c.at = c.at.Add(d) }
