package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultDecimals applies to assets missing from SPLITVAULT_ASSET_DECIMALS.
const DefaultDecimals int32 = 8

type Config struct {
	DatabaseURL string // SPLITVAULT_DATABASE_URL (optional, empty = in-memory store)
	GRPCAddr    string // SPLITVAULT_GRPC_ADDR (default ":9090")
	HTTPAddr    string // SPLITVAULT_HTTP_ADDR (default ":8080")
	NATSURL     string // SPLITVAULT_NATS_URL (optional, empty = no events)
	AuthToken   string // SPLITVAULT_AUTH_TOKEN (optional, empty = auth disabled)

	// Lifecycle
	SweepInterval         time.Duration    // SPLITVAULT_SWEEP_INTERVAL (default 1m; 0 = disabled)
	ResumeAfter           time.Duration    // SPLITVAULT_RESUME_AFTER (default 10m; 0 = never resume stalled unlocks)
	VaultTTL              time.Duration    // SPLITVAULT_VAULT_TTL (default 720h)
	ProposalTTL           time.Duration    // SPLITVAULT_PROPOSAL_TTL (default 72h)
	AssetDecimals         map[string]int32 // SPLITVAULT_ASSET_DECIMALS ("btc:8,eth:18")
	FallbackRefundAddress string           // SPLITVAULT_FALLBACK_REFUND_ADDRESS

	// Swap provider
	SwapURL              string        // SPLITVAULT_SWAP_URL (empty = mock provider only)
	SwapSecret           string        // SPLITVAULT_SWAP_SECRET
	SwapTimeout          time.Duration // SPLITVAULT_SWAP_TIMEOUT (default 15s)
	SwapDegradedFallback bool          // SPLITVAULT_SWAP_DEGRADED_FALLBACK (default true)

	// Routing retries
	RetryMaxAttempts int           // SPLITVAULT_RETRY_MAX_ATTEMPTS (default 5)
	RetryBaseDelay   time.Duration // SPLITVAULT_RETRY_BASE_DELAY (default 500ms)
	RetryMaxDelay    time.Duration // SPLITVAULT_RETRY_MAX_DELAY (default 30s)

	// Deposit reporting
	DepositSourceURL    string        // SPLITVAULT_DEPOSIT_SOURCE_URL (enables polling when set)
	DepositSourceToken  string        // SPLITVAULT_DEPOSIT_SOURCE_TOKEN
	DepositPollInterval time.Duration // SPLITVAULT_DEPOSIT_POLL_INTERVAL (default 30s)

	// Sync settings
	SyncInterval      time.Duration // SPLITVAULT_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket      string        // SPLITVAULT_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint    string        // SPLITVAULT_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region      string        // SPLITVAULT_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key         string        // SPLITVAULT_SYNC_S3_KEY (default "splitvault/snapshot.jsonl")
	SyncS3KeepHistory bool          // SPLITVAULT_SYNC_S3_HISTORY (also write timestamped copies)
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:           os.Getenv("SPLITVAULT_DATABASE_URL"),
		GRPCAddr:              envOrDefault("SPLITVAULT_GRPC_ADDR", ":9090"),
		HTTPAddr:              envOrDefault("SPLITVAULT_HTTP_ADDR", ":8080"),
		NATSURL:               os.Getenv("SPLITVAULT_NATS_URL"),
		AuthToken:             os.Getenv("SPLITVAULT_AUTH_TOKEN"),
		FallbackRefundAddress: os.Getenv("SPLITVAULT_FALLBACK_REFUND_ADDRESS"),
		SwapURL:               os.Getenv("SPLITVAULT_SWAP_URL"),
		SwapSecret:            os.Getenv("SPLITVAULT_SWAP_SECRET"),
		DepositSourceURL:      os.Getenv("SPLITVAULT_DEPOSIT_SOURCE_URL"),
		DepositSourceToken:    os.Getenv("SPLITVAULT_DEPOSIT_SOURCE_TOKEN"),
		SyncS3Bucket:          os.Getenv("SPLITVAULT_SYNC_S3_BUCKET"),
		SyncS3Endpoint:        os.Getenv("SPLITVAULT_SYNC_S3_ENDPOINT"),
		SyncS3Region:          envOrDefault("SPLITVAULT_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:             envOrDefault("SPLITVAULT_SYNC_S3_KEY", "splitvault/snapshot.jsonl"),
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"SPLITVAULT_SWEEP_INTERVAL", "1m", &c.SweepInterval},
		{"SPLITVAULT_RESUME_AFTER", "10m", &c.ResumeAfter},
		{"SPLITVAULT_VAULT_TTL", "720h", &c.VaultTTL},
		{"SPLITVAULT_PROPOSAL_TTL", "72h", &c.ProposalTTL},
		{"SPLITVAULT_SWAP_TIMEOUT", "15s", &c.SwapTimeout},
		{"SPLITVAULT_RETRY_BASE_DELAY", "500ms", &c.RetryBaseDelay},
		{"SPLITVAULT_RETRY_MAX_DELAY", "30s", &c.RetryMaxDelay},
		{"SPLITVAULT_DEPOSIT_POLL_INTERVAL", "30s", &c.DepositPollInterval},
		{"SPLITVAULT_SYNC_INTERVAL", "3m", &c.SyncInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}
	if c.VaultTTL == 0 || c.ProposalTTL == 0 {
		return nil, fmt.Errorf("SPLITVAULT_VAULT_TTL and SPLITVAULT_PROPOSAL_TTL must be positive")
	}

	var err error
	if c.SwapDegradedFallback, err = strconv.ParseBool(envOrDefault("SPLITVAULT_SWAP_DEGRADED_FALLBACK", "true")); err != nil {
		return nil, fmt.Errorf("SPLITVAULT_SWAP_DEGRADED_FALLBACK: %w", err)
	}
	if c.SyncS3KeepHistory, err = strconv.ParseBool(envOrDefault("SPLITVAULT_SYNC_S3_HISTORY", "false")); err != nil {
		return nil, fmt.Errorf("SPLITVAULT_SYNC_S3_HISTORY: %w", err)
	}
	if c.RetryMaxAttempts, err = strconv.Atoi(envOrDefault("SPLITVAULT_RETRY_MAX_ATTEMPTS", "5")); err != nil {
		return nil, fmt.Errorf("SPLITVAULT_RETRY_MAX_ATTEMPTS: %w", err)
	}
	if c.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("SPLITVAULT_RETRY_MAX_ATTEMPTS: must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.AssetDecimals, err = ParseAssetDecimals(os.Getenv("SPLITVAULT_ASSET_DECIMALS")); err != nil {
		return nil, fmt.Errorf("SPLITVAULT_ASSET_DECIMALS: %w", err)
	}

	return c, nil
}

// ParseAssetDecimals parses a comma-separated list of asset:decimals pairs.
// Asset symbols are lower-cased.
func ParseAssetDecimals(s string) (map[string]int32, error) {
	out := make(map[string]int32)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		asset, digits, ok := strings.Cut(pair, ":")
		asset = strings.ToLower(strings.TrimSpace(asset))
		if !ok || asset == "" {
			return nil, fmt.Errorf("invalid entry %q, want asset:decimals", pair)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 32)
		if err != nil || n < 0 || n > 36 {
			return nil, fmt.Errorf("invalid decimals for %s: %q", asset, digits)
		}
		out[asset] = int32(n)
	}
	return out, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
