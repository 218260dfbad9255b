package token

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-devicelink/internal/credentials"
)

const (
	// MaxSize is the largest token the broker accepts as a password.
	MaxSize = 1024

	// MaxValidity is the longest validity a device token may carry.
	MaxValidity = 24 * time.Hour
)

// Token is a signed device credential. Value must never be logged.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// String redacts the token value.
func (t Token) String() string {
	return fmt.Sprintf("token(expires %s)", t.ExpiresAt.UTC().Format(time.RFC3339))
}

// Minter produces tokens from a credential buffer.
type Minter struct {
	signer Signer
	now    func() time.Time
}

// MinterOption configures a Minter.
type MinterOption func(*Minter)

// WithClock sets the clock that stamps each token. It is read once per Mint
// and the same instant goes to the signer.
func WithClock(now func() time.Time) MinterOption {
	return func(m *Minter) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMinter creates a Minter backed by signer.
func NewMinter(signer Signer, opts ...MinterOption) *Minter {
	m := &Minter{signer: signer, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint signs a new token for projectID valid for validity.
func (m *Minter) Mint(projectID string, creds *credentials.Buffer, validity time.Duration) (Token, error) {
	if projectID == "" {
		return Token{}, ErrMissingProjectID
	}
	if creds == nil || creds.Len() == 0 {
		return Token{}, ErrNoCredentials
	}
	if validity <= 0 || validity > MaxValidity {
		return Token{}, fmt.Errorf("%w: %s (must be within (0, %s])", ErrInvalidValidity, validity, MaxValidity)
	}

	// JWT times have second resolution.
	issued := m.now().Truncate(time.Second)

	raw, err := m.signer.Sign(projectID, issued, validity, creds.Bytes())
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	if len(raw) == 0 || len(raw) > MaxSize {
		return Token{}, fmt.Errorf("%w: token length %d outside (0, %d]", ErrSigning, len(raw), MaxSize)
	}

	return Token{
		Value:     string(raw),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(validity),
	}, nil
}
