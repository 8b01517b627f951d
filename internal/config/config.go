// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Lock
	LockTimeout time.Duration

	// Session
	SessionSweepInterval time.Duration

	// Invitation
	MailGatewayURL      string
	MailGatewayTimeout  time.Duration
	InviteSweepInterval time.Duration
	InviteSweepBatch    int
	InviteMaxRetries    int

	// Rate Limit
	RateLimitGeneral  int
	RateLimitWrite    int
	RateLimitDecision int

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LockTimeout = getEnvDuration("LOCK_TIMEOUT", 3*time.Second)
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", 1*time.Hour)
	cfg.MailGatewayURL = getEnvString("MAIL_GATEWAY_URL", "")
	cfg.MailGatewayTimeout = getEnvDuration("MAIL_GATEWAY_TIMEOUT", 10*time.Second)
	cfg.InviteSweepInterval = getEnvDuration("INVITE_SWEEP_INTERVAL", 5*time.Minute)
	cfg.InviteSweepBatch = getEnvInt("INVITE_SWEEP_BATCH", 50)
	cfg.InviteMaxRetries = getEnvInt("INVITE_MAX_RETRIES", 3)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.RateLimitDecision = getEnvInt("RATE_LIMIT_DECISION", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
