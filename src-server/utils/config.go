package utils

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type NoConnectionPolicy string

const (
	NO_CONNECTION_POLICY_FREE NoConnectionPolicy = "free"
	NO_CONNECTION_POLICY_BUSY NoConnectionPolicy = "busy"
)

type Config struct {
	port       string
	sqlitePath string

	syncInterval    time.Duration
	syncLookahead   time.Duration
	syncTimeout     time.Duration
	syncBaseBackoff time.Duration
	syncMaxBackoff  time.Duration
	syncMaxFailures int

	expireSweepInterval   time.Duration
	defaultProposalExpire time.Duration

	maxSlotCandidates  int
	minSlotBuffer      time.Duration
	noConnectionPolicy NoConnectionPolicy

	metricCollectionInterval time.Duration

	googleClientID     string
	googleClientSecret string
}

func envDuration(key, fallback string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		raw = fallback
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		slog.Error("invalid duration env", "key", key, "value", raw, "error", err)
		os.Exit(1)
	}
	slog.Debug("env", key, duration)
	return duration
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		slog.Error("invalid integer env", "key", key, "value", raw, "error", err)
		os.Exit(1)
	}
	slog.Debug("env", key, value)
	return value
}

func NewConfig() *Config {
	return &Config{
		port: func() string {
			port := os.Getenv("PORT")
			if port == "" {
				port = "8080"
			}
			slog.Debug("env", "PORT", port)
			return port
		}(),
		sqlitePath: func() string {
			sqlitePath := os.Getenv("SQLITE_PATH")
			if sqlitePath == "" {
				slog.Warn("SQLITE_PATH is not set, using ./sqlite.db")
				sqlitePath = "./sqlite.db"
			}
			slog.Debug("env", "SQLITE_PATH", sqlitePath)
			return sqlitePath
		}(),

		syncInterval: envDuration("SYNC_INTERVAL", "5m"),
		syncLookahead: func() time.Duration {
			days := envInt("SYNC_LOOKAHEAD_DAYS", 90)
			if days <= 0 {
				slog.Error("SYNC_LOOKAHEAD_DAYS must be positive", "value", days)
				os.Exit(1)
			}
			return time.Duration(days) * 24 * time.Hour
		}(),
		syncTimeout:     envDuration("SYNC_TIMEOUT", "30s"),
		syncBaseBackoff: envDuration("SYNC_BASE_BACKOFF", "1m"),
		syncMaxBackoff:  envDuration("SYNC_MAX_BACKOFF", "1h"),
		syncMaxFailures: func() int {
			maxFailures := envInt("SYNC_MAX_FAILURES", 5)
			if maxFailures < 1 {
				slog.Error("SYNC_MAX_FAILURES must be at least 1", "value", maxFailures)
				os.Exit(1)
			}
			return maxFailures
		}(),

		expireSweepInterval:   envDuration("EXPIRE_SWEEP_INTERVAL", "30s"),
		defaultProposalExpire: envDuration("DEFAULT_PROPOSAL_EXPIRE", "72h"),

		maxSlotCandidates: envInt("MAX_SLOT_CANDIDATES", 5),
		minSlotBuffer:     envDuration("MIN_SLOT_BUFFER", "10m"),
		noConnectionPolicy: func() NoConnectionPolicy {
			policy := os.Getenv("NO_CONNECTION_POLICY")
			switch policy {
			case "":
				slog.Warn("NO_CONNECTION_POLICY is not set, treating people without connections as free")
				return NO_CONNECTION_POLICY_FREE
			case string(NO_CONNECTION_POLICY_FREE):
				return NO_CONNECTION_POLICY_FREE
			case string(NO_CONNECTION_POLICY_BUSY):
				return NO_CONNECTION_POLICY_BUSY
			default:
				slog.Error("invalid NO_CONNECTION_POLICY", "value", policy)
				os.Exit(1)
				return NO_CONNECTION_POLICY_FREE
			}
		}(),

		metricCollectionInterval: envDuration("METRIC_COLLECTION_INTERVAL", "15s"),

		googleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		googleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
	}
}

// Get PORT env, default to 8080
func (c *Config) GetPort() string {
	return c.port
}

// Get SQLITE_PATH env
func (c *Config) GetSqlitePath() string {
	return c.sqlitePath
}

// Get SYNC_INTERVAL env, how often due connections are re-synced
func (c *Config) GetSyncInterval() time.Duration {
	return c.syncInterval
}

// Get SYNC_LOOKAHEAD_DAYS env as a duration
func (c *Config) GetSyncLookahead() time.Duration {
	return c.syncLookahead
}

// Get SYNC_TIMEOUT env, the bound on one external fetch/write call
func (c *Config) GetSyncTimeout() time.Duration {
	return c.syncTimeout
}

// Get SYNC_BASE_BACKOFF env
func (c *Config) GetSyncBaseBackoff() time.Duration {
	return c.syncBaseBackoff
}

// Get SYNC_MAX_BACKOFF env
func (c *Config) GetSyncMaxBackoff() time.Duration {
	return c.syncMaxBackoff
}

// Get SYNC_MAX_FAILURES env, consecutive failures before a connection
// is sync-disabled and surfaced for manual re-authorization
func (c *Config) GetSyncMaxFailures() int {
	return c.syncMaxFailures
}

// Get EXPIRE_SWEEP_INTERVAL env
func (c *Config) GetExpireSweepInterval() time.Duration {
	return c.expireSweepInterval
}

// Get DEFAULT_PROPOSAL_EXPIRE env
func (c *Config) GetDefaultProposalExpire() time.Duration {
	return c.defaultProposalExpire
}

// Get MAX_SLOT_CANDIDATES env
func (c *Config) GetMaxSlotCandidates() int {
	return c.maxSlotCandidates
}

// Get MIN_SLOT_BUFFER env
func (c *Config) GetMinSlotBuffer() time.Duration {
	return c.minSlotBuffer
}

// Get NO_CONNECTION_POLICY env
func (c *Config) GetNoConnectionPolicy() NoConnectionPolicy {
	return c.noConnectionPolicy
}

// Get METRIC_COLLECTION_INTERVAL env
func (c *Config) GetMetricCollectionInterval() time.Duration {
	return c.metricCollectionInterval
}

// Get GOOGLE_CLIENT_ID env, blank when the Google provider is not configured
func (c *Config) GetGoogleClientID() string {
	return c.googleClientID
}

// Get GOOGLE_CLIENT_SECRET env
func (c *Config) GetGoogleClientSecret() string {
	return c.googleClientSecret
}
