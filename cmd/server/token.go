package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/sentinel/internal/api/auth"
)

var (
	tokenUserID   string
	tokenUsername string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token signed with the configured JWT secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := issueToken(cfg.Auth, tokenUserID, tokenUsername, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "subject of the token (required)")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "display name recorded on acknowledgements")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user-id")
}

func issueToken(cfg AuthConfig, userID, username string, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", errors.New("auth.jwt_secret is not set; the server accepts anonymous callers")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	return auth.NewJWTService([]byte(cfg.JWTSecret), ttl, cfg.Issuer).GenerateToken(userID, username)
}
