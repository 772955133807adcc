// Package config implements TOML configuration loading, validation, and
// environment overrides for anaplan-go clients. Keys are flat: every section
// struct is embedded in Config, so the file is a single table.
package config

import (
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	ConnectionConfig
	CredentialsConfig
	TasksConfig
	UploadConfig
	StorageConfig
	LoggingConfig
}

// ConnectionConfig selects the model and the service endpoints.
type ConnectionConfig struct {
	WorkspaceID string `toml:"workspace_id"`
	ModelID     string `toml:"model_id"`
	AuthURL     string `toml:"auth_url"`
	BaseURL     string `toml:"base_url"`
	Timeout     string `toml:"timeout"`
}

// CredentialsConfig holds either a user/password pair or a certificate and
// private key. Certificate and key accept a file path or inline PEM. When
// both variants are complete the certificate wins.
type CredentialsConfig struct {
	UserEmail          string `toml:"user_email"`
	Password           string `toml:"password"`
	Certificate        string `toml:"certificate"`
	PrivateKey         string `toml:"private_key"`
	PrivateKeyPassword string `toml:"private_key_password"`
}

// TasksConfig controls task polling.
type TasksConfig struct {
	StatusPollDelay string `toml:"status_poll_delay"`
}

// UploadConfig controls chunked file uploads.
type UploadConfig struct {
	UploadParallel  bool   `toml:"upload_parallel"`
	UploadWorkers   int    `toml:"upload_workers"`
	UploadChunkSize string `toml:"upload_chunk_size"`
	BandwidthLimit  string `toml:"bandwidth_limit"`
}

// StorageConfig names the optional on-disk state. Empty paths disable the
// corresponding feature.
type StorageConfig struct {
	TokenCache string `toml:"token_cache"`
	LedgerPath string `toml:"ledger_path"`
}

// LoggingConfig controls the logger built by NewLogger.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// HasBasic reports whether a complete user/password pair is configured.
func (c *CredentialsConfig) HasBasic() bool {
	return c.UserEmail != "" && c.Password != ""
}

// HasCertificate reports whether a complete certificate/key pair is configured.
func (c *CredentialsConfig) HasCertificate() bool {
	return c.Certificate != "" && c.PrivateKey != ""
}

// TimeoutDuration returns the parsed per-request timeout. Validate guarantees
// the value parses; a malformed value falls back to the default.
func (c *ConnectionConfig) TimeoutDuration() time.Duration {
	return durationOr(c.Timeout, defaultTimeout)
}

// PollDelay returns the parsed delay between task status polls.
func (t *TasksConfig) PollDelay() time.Duration {
	return durationOr(t.StatusPollDelay, defaultStatusPollDelay)
}

// ChunkSizeBytes returns the parsed upload chunk size.
func (u *UploadConfig) ChunkSizeBytes() int64 {
	n, err := ParseSize(u.UploadChunkSize)
	if err != nil || n <= 0 {
		n, _ = ParseSize(defaultUploadChunkSize) //nolint:errcheck // constant

		return n
	}

	return n
}

// Workers returns the effective number of concurrent chunk uploads. A
// sequential configuration always yields one worker.
func (u *UploadConfig) Workers() int {
	if !u.UploadParallel || u.UploadWorkers < 1 {
		return 1
	}

	return u.UploadWorkers
}

func durationOr(s, fallback string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(fallback) //nolint:errcheck // constant
	}

	return d
}
