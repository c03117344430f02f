// Package auth validates presence proofs: an Ed25519 signature over a
// timestamp string, optionally gated by a server-wide password. Consumed
// proofs are remembered in a NonceStore so the identical proof never
// authenticates twice.
package auth

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// maxClockSkew tolerates client clocks slightly ahead of the server.
const maxClockSkew = 30 * time.Second

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrStaleProof      = errors.New("stale presence proof")
	ErrBadSignature    = errors.New("bad signature")
	ErrReplayedProof   = errors.New("replayed presence proof")
	ErrMalformedProof  = errors.New("malformed presence proof")
)

// Identity is an authenticated pairing of a display name with a public key.
type Identity struct {
	Name      string
	PublicKey string // base64, as presented on the wire
	IsAdmin   bool
}

type Verifier struct {
	password  string
	adminKeys map[string]struct{}
	nonces    *NonceStore
	window    time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier. password may be empty (no password gate)
// or a bcrypt hash (prefix "$2"); adminKeys are base64 Ed25519 public keys.
func NewVerifier(password string, adminKeys []string, nonces *NonceStore, window time.Duration) *Verifier {
	keys := make(map[string]struct{}, len(adminKeys))
	for _, k := range adminKeys {
		keys[k] = struct{}{}
	}

	return &Verifier{
		password:  password,
		adminKeys: keys,
		nonces:    nonces,
		window:    window,
		now:       time.Now,
	}
}

// AdminGated reports whether an admin key set is configured, which makes
// channel administration a privileged operation.
func (v *Verifier) AdminGated() bool {
	return len(v.adminKeys) > 0
}

// Verify checks a presence proof and returns the authenticated identity.
// The rejection order is fixed: password, timestamp window, signature,
// replay. Only a fully valid proof consumes a nonce.
func (v *Verifier) Verify(name, publicKey, timestamp, signature, password string) (Identity, error) {
	if err := v.checkPassword(password); err != nil {
		return Identity{}, err
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Identity{}, ErrMalformedProof
	}
	proofTime := time.Unix(ts, 0)

	now := v.now()
	if now.Sub(proofTime) > v.window || proofTime.Sub(now) > maxClockSkew {
		return Identity{}, ErrStaleProof
	}

	rawKey, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(rawKey) != ed25519.PublicKeySize {
		return Identity{}, ErrMalformedProof
	}
	rawSig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return Identity{}, ErrMalformedProof
	}

	// The signature covers the exact timestamp string the client sent,
	// not a canonicalized form.
	if !ed25519.Verify(rawKey, []byte(timestamp), rawSig) {
		return Identity{}, ErrBadSignature
	}

	if !v.nonces.Insert(publicKey + "|" + timestamp) {
		return Identity{}, ErrReplayedProof
	}

	_, isAdmin := v.adminKeys[publicKey]
	return Identity{Name: name, PublicKey: publicKey, IsAdmin: isAdmin}, nil
}

func (v *Verifier) checkPassword(password string) error {
	if v.password == "" {
		return nil
	}

	if strings.HasPrefix(v.password, "$2") {
		if bcrypt.CompareHashAndPassword([]byte(v.password), []byte(password)) != nil {
			return ErrInvalidPassword
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(v.password), []byte(password)) != 1 {
		return ErrInvalidPassword
	}
	return nil
}
