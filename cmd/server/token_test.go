package main

import (
	"testing"
	"time"

	"github.com/good-yellow-bee/sentinel/internal/api/auth"
)

func TestIssueToken_ValidatesAgainstServerConfig(t *testing.T) {
	cfg := AuthConfig{JWTSecret: "s3cret", Issuer: "night-desk"}

	token, err := issueToken(cfg, "u-7", "ops", time.Hour)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}

	claims, err := auth.NewJWTService([]byte(cfg.JWTSecret), 0, cfg.Issuer).ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "u-7" || claims.Username != "ops" {
		t.Errorf("claims = %+v", claims)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != time.Hour {
		t.Errorf("token lifetime = %v, want 1h", ttl)
	}
}

func TestIssueToken_Errors(t *testing.T) {
	tests := []struct {
		name   string
		cfg    AuthConfig
		userID string
		ttl    time.Duration
	}{
		{"no secret", AuthConfig{}, "u-1", time.Hour},
		{"no user", AuthConfig{JWTSecret: "x"}, "", time.Hour},
		{"zero ttl", AuthConfig{JWTSecret: "x"}, "u-1", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := issueToken(tc.cfg, tc.userID, "", tc.ttl); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}
