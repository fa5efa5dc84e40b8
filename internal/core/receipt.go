package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultReceiptIssuer = "rescuebox"

// ReceiptClaims binds an invocation to its evidence hash.
type ReceiptClaims struct {
	InvocationID string `json:"invocation_id"`
	Command      string `json:"command"`
	EvidenceHash string `json:"evidence_hash"`
	jwt.RegisteredClaims
}

type ReceiptError struct {
	Reason string
}

func (e *ReceiptError) Error() string { return "invalid receipt: " + e.Reason }

func (e *ReceiptError) ErrorCode() string { return "receipt_invalid" }

// ReceiptSigner issues and verifies HS256 invocation receipts.
type ReceiptSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewReceiptSigner returns a signer keyed by secret. A zero ttl issues
// receipts that never expire.
func NewReceiptSigner(secret []byte, ttl time.Duration) (*ReceiptSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("receipt secret must be at least 16 bytes")
	}
	return &ReceiptSigner{secret: secret, issuer: defaultReceiptIssuer, ttl: ttl, now: time.Now}, nil
}

func (s *ReceiptSigner) Sign(invocationID, command, evidenceHash string) (string, error) {
	now := s.now()
	claims := ReceiptClaims{
		InvocationID: invocationID,
		Command:      command,
		EvidenceHash: evidenceHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  invocationID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

// Verify parses a receipt and returns its claims.
func (s *ReceiptSigner) Verify(token string) (*ReceiptClaims, error) {
	claims := &ReceiptClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, &ReceiptError{Reason: err.Error()}
	}
	if claims.InvocationID == "" || claims.EvidenceHash == "" {
		return nil, &ReceiptError{Reason: "missing invocation claims"}
	}
	return claims, nil
}
