// Package auth provides operator API-key verification and signed approval
// tokens.
//
// Approval tokens are JWTs signed with Ed25519 (EdDSA), scoped to one
// paused cell of one notebook. Keys can be loaded from PEM files or
// auto-generated for development.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ApprovalClaims extends jwt.RegisteredClaims with the pause scope.
type ApprovalClaims struct {
	jwt.RegisteredClaims
	NotebookID uuid.UUID `json:"notebook_id"`
	CellID     uuid.UUID `json:"cell_id"`
}

// Approvals mints and verifies approval tokens using Ed25519.
type Approvals struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration
}

// NewApprovals creates an Approvals from PEM key files.
// If paths are empty, generates an ephemeral key pair (for development).
func NewApprovals(privateKeyPath, publicKeyPath string, ttl time.Duration) (*Approvals, error) {
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no approval key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
		return &Approvals{privateKey: priv, publicKey: pub, ttl: ttl}, nil
	}

	priv, pub, err := loadKeyPair(privateKeyPath, publicKeyPath)
	if err != nil {
		return nil, err
	}
	return &Approvals{privateKey: priv, publicKey: pub, ttl: ttl}, nil
}

func loadKeyPair(privateKeyPath, publicKeyPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privPEM, err := os.ReadFile(privateKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("auth: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("auth: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(publicKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, nil, fmt.Errorf("auth: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, nil, fmt.Errorf("auth: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("auth: public key is not Ed25519")
	}

	// Verify the public key matches the private key to catch
	// misconfiguration (e.g. keys deployed from different environments).
	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, nil, fmt.Errorf("auth: public key does not match private key")
	}

	return edPriv, edPub, nil
}

// Issue creates a signed token scoped to the paused cell.
func (a *Approvals) Issue(notebookID, cellID uuid.UUID) (string, error) {
	now := time.Now().UTC()
	claims := ApprovalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cellID.String(),
			Issuer:    "renga",
			Audience:  jwt.ClaimStrings{"renga"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.New().String(),
		},
		NotebookID: notebookID,
		CellID:     cellID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign approval token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature, expiry, and scope.
func (a *Approvals) Verify(token string, notebookID, cellID uuid.UUID) error {
	var claims ApprovalClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.publicKey, nil
	}, jwt.WithIssuer("renga"), jwt.WithAudience("renga"))
	if err != nil {
		return fmt.Errorf("auth: parse approval token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("auth: approval token invalid")
	}
	if claims.NotebookID != notebookID || claims.CellID != cellID {
		return fmt.Errorf("auth: approval token scoped to a different cell")
	}
	return nil
}
