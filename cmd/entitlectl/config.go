package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backends accepted by ENTITLE_STORE.
const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

// config is read from the environment, after loading .env files.
type config struct {
	Store         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	Listen            string
	AdminToken        string
	SigningSecret     string
	RazorpayKeyID     string
	RazorpayKeySecret string

	ReconcileSchedule string
	ExpiryGrace       time.Duration
	GatewayTimeout    time.Duration

	LogLevel  string
	LogFormat string
}

// loadConfig reads .env files named in envFiles (or ./.env when none are
// given) and then the process environment. Variables already set in the
// environment win over the files.
func loadConfig(envFiles ...string) (*config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &config{
		Store:             strings.ToLower(getEnv("ENTITLE_STORE", backendMemory)),
		RedisAddr:         getEnv("ENTITLE_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("ENTITLE_REDIS_PASSWORD"),
		RedisPrefix:       getEnv("ENTITLE_REDIS_PREFIX", "entitle"),
		Listen:            getEnv("ENTITLE_LISTEN", ":8080"),
		AdminToken:        os.Getenv("ENTITLE_ADMIN_TOKEN"),
		RazorpayKeyID:     os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
		ReconcileSchedule: getEnv("ENTITLE_RECONCILE_SCHEDULE", "@hourly"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
	}
	// Razorpay signs callbacks with the key secret.
	cfg.SigningSecret = getEnv("ENTITLE_SIGNING_SECRET", cfg.RazorpayKeySecret)

	var err error
	if cfg.RedisDB, err = strconv.Atoi(getEnv("ENTITLE_REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("ENTITLE_REDIS_DB: %w", err)
	}
	if cfg.ExpiryGrace, err = time.ParseDuration(getEnv("ENTITLE_EXPIRY_GRACE", "72h")); err != nil {
		return nil, fmt.Errorf("ENTITLE_EXPIRY_GRACE: %w", err)
	}
	if cfg.GatewayTimeout, err = time.ParseDuration(getEnv("ENTITLE_GATEWAY_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("ENTITLE_GATEWAY_TIMEOUT: %w", err)
	}

	switch cfg.Store {
	case backendMemory, backendRedis:
	default:
		return nil, fmt.Errorf("ENTITLE_STORE: unknown backend %q", cfg.Store)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
