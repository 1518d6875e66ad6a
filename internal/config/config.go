// Package config loads mailgate's runtime configuration from environment
// variables. The settings are a flat set of required and defaulted
// scalars, so there is no config-file layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every runtime setting.
type Config struct {
	// Mailbox
	MailUsername string
	MailPassword string
	IMAPHost     string
	IMAPPort     int
	SMTPHost     string
	SMTPPort     int

	// Database
	DBPath string // sqlite file path

	// Mailbox folder
	MailFolder string

	// Rule-set bootstrap (optional; see internal/repository/seed.go)
	RulesSeedPath string

	// Filesystem
	AttachmentPath     string
	AttachmentS3Bucket string
	AttachmentS3Region string

	// Scheduling
	MailCheckInterval time.Duration

	// Logging
	LogLevel string
	LogFile  string

	// HTTP
	HTTPHost string
	HTTPPort int
	Debug    bool
}

// Load reads Config from the environment, applying defaults and failing
// for missing required fields so the service refuses to start
// half-configured.
func Load() (*Config, error) {
	c := &Config{
		MailUsername:       os.Getenv("MAIL_USERNAME"),
		MailPassword:       os.Getenv("MAIL_PASSWORD"),
		IMAPHost:           os.Getenv("IMAP_HOST"),
		IMAPPort:           envOrInt("IMAP_PORT", 993),
		SMTPHost:           envOr("SMTP_HOST", os.Getenv("IMAP_HOST")),
		SMTPPort:           envOrInt("SMTP_PORT", 465),
		DBPath:             envOr("DB_PATH", "mailgate.db"),
		MailFolder:         envOr("MAIL_FOLDER", "INBOX"),
		RulesSeedPath:      os.Getenv("RULES_SEED_PATH"),
		AttachmentPath:     os.Getenv("ATTACHMENT_PATH"),
		AttachmentS3Bucket: os.Getenv("ATTACHMENT_S3_BUCKET"),
		AttachmentS3Region: envOr("ATTACHMENT_S3_REGION", "us-east-1"),
		MailCheckInterval:  time.Duration(envOrInt("MAIL_CHECK_INTERVAL", 300)) * time.Second,
		LogLevel:           envOr("LOG_LEVEL", "INFO"),
		LogFile:            os.Getenv("LOG_FILE"),
		HTTPHost:           envOr("HTTP_HOST", "0.0.0.0"),
		HTTPPort:           envOrInt("HTTP_PORT", 8000),
		Debug:              envOrBool("DEBUG", false),
	}

	if c.MailUsername == "" || c.MailPassword == "" {
		return nil, fmt.Errorf("config: MAIL_USERNAME and MAIL_PASSWORD are required")
	}
	if c.IMAPHost == "" {
		return nil, fmt.Errorf("config: IMAP_HOST is required")
	}
	if c.AttachmentPath == "" {
		return nil, fmt.Errorf("config: ATTACHMENT_PATH is required")
	}

	return c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
