package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

var (
	// ErrInvalidCredential is returned when a credential's signature does not match.
	ErrInvalidCredential = errors.New("invalid upload credential")

	// ErrCredentialExpired is returned when a credential is older than its TTL.
	ErrCredentialExpired = errors.New("upload credential expired")
)

// DefaultCredentialTTL is how long an issued credential stays valid.
const DefaultCredentialTTL = 10 * time.Minute

// Signer issues and verifies time-limited upload credentials. A credential
// is an HMAC-SHA256 over the folder and issue time.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer. A zero ttl takes DefaultCredentialTTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue implements core.CredentialIssuer.
func (s *Signer) Issue(_ context.Context, folder string) (core.UploadCredential, error) {
	ts := s.now().UTC().Truncate(time.Second)
	return core.UploadCredential{
		Signature: s.sign(folder, ts),
		Timestamp: ts,
		Folder:    folder,
	}, nil
}

// Verify checks the signature and age of cred.
func (s *Signer) Verify(cred core.UploadCredential) error {
	want := s.sign(cred.Folder, cred.Timestamp)
	if !hmac.Equal([]byte(want), []byte(cred.Signature)) {
		return ErrInvalidCredential
	}
	if s.now().Sub(cred.Timestamp) > s.ttl {
		return ErrCredentialExpired
	}
	return nil
}

func (s *Signer) sign(folder string, ts time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(folder))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
