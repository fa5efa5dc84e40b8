package core

import (
	"errors"
	"testing"
	"time"
)

func TestReceiptSignVerify(t *testing.T) {
	signer, err := NewReceiptSigner([]byte("receipt-secret-for-tests"), time.Hour)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	token, err := signer.Sign("inv-1", "/fs/list", "abc123")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.InvocationID != "inv-1" || claims.Command != "/fs/list" || claims.EvidenceHash != "abc123" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "rescuebox" || claims.ExpiresAt == nil {
		t.Fatalf("expected issuer and expiry, got %+v", claims.RegisteredClaims)
	}
}

func TestReceiptVerifyRejects(t *testing.T) {
	signer, _ := NewReceiptSigner([]byte("receipt-secret-for-tests"), time.Minute)
	other, _ := NewReceiptSigner([]byte("a-different-secret-value"), time.Minute)

	valid, err := signer.Sign("inv-1", "/fs/list", "abc")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	foreign, _ := other.Sign("inv-1", "/fs/list", "abc")

	expiring, _ := NewReceiptSigner([]byte("receipt-secret-for-tests"), time.Minute)
	expiring.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiring.Sign("inv-1", "/fs/list", "abc")

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong key", token: foreign},
		{name: "tampered", token: valid[:len(valid)-2] + "xx"},
		{name: "expired", token: expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Verify(tt.token)
			var re *ReceiptError
			if !errors.As(err, &re) {
				t.Fatalf("expected ReceiptError, got %v", err)
			}
			if re.ErrorCode() != "receipt_invalid" {
				t.Fatalf("unexpected code %q", re.ErrorCode())
			}
		})
	}
}

func TestNewReceiptSignerShortSecret(t *testing.T) {
	if _, err := NewReceiptSigner([]byte("short"), 0); err == nil {
		t.Fatal("expected error for short secret")
	}
}
