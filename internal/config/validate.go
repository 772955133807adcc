package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minUploadWorkers = 1
	maxUploadWorkers = 64
	minChunkBytes    = 1
	maxChunkBytes    = 1_000_000_000
	minTimeout       = 1 * time.Second
	minPollDelay     = 10 * time.Millisecond
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateConnection(&cfg.ConnectionConfig)...)
	errs = append(errs, validateCredentialPairs(&cfg.CredentialsConfig)...)
	errs = append(errs, validateTasks(&cfg.TasksConfig)...)
	errs = append(errs, validateUpload(&cfg.UploadConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only hold once every override
// layer has been applied: a client needs a model and usable credentials.
func ValidateResolved(cfg *Config) error {
	var errs []error

	if cfg.WorkspaceID == "" {
		errs = append(errs, errors.New("workspace_id: must be set"))
	}

	if cfg.ModelID == "" {
		errs = append(errs, errors.New("model_id: must be set"))
	}

	if !cfg.HasBasic() && !cfg.HasCertificate() {
		errs = append(errs, errors.New(
			"credentials: set user_email and password, or certificate and private_key"))
	}

	return errors.Join(errs...)
}

func validateConnection(c *ConnectionConfig) []error {
	var errs []error

	errs = append(errs, validateURL("auth_url", c.AuthURL)...)
	errs = append(errs, validateURL("base_url", c.BaseURL)...)
	errs = append(errs, validateDurationMin("timeout", c.Timeout, minTimeout)...)

	return errs
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return []error{fmt.Errorf("%s: must be an http(s) URL, got %q", field, value)}
	}

	return nil
}

// validateCredentialPairs rejects a half-configured variant, which would
// otherwise be silently ignored in favour of the other one.
func validateCredentialPairs(c *CredentialsConfig) []error {
	var errs []error

	if (c.UserEmail == "") != (c.Password == "") {
		errs = append(errs, errors.New("user_email and password: must be set together"))
	}

	if (c.Certificate == "") != (c.PrivateKey == "") {
		errs = append(errs, errors.New("certificate and private_key: must be set together"))
	}

	if c.PrivateKeyPassword != "" && c.PrivateKey == "" {
		errs = append(errs, errors.New("private_key_password: requires private_key"))
	}

	return errs
}

func validateTasks(t *TasksConfig) []error {
	return validateDurationMin("status_poll_delay", t.StatusPollDelay, minPollDelay)
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	if u.UploadWorkers < minUploadWorkers || u.UploadWorkers > maxUploadWorkers {
		errs = append(errs, fmt.Errorf("upload_workers: must be between %d and %d, got %d",
			minUploadWorkers, maxUploadWorkers, u.UploadWorkers))
	}

	errs = append(errs, validateChunkSize(u.UploadChunkSize)...)
	errs = append(errs, validateBandwidthLimit(u.BandwidthLimit)...)

	return errs
}

func validateChunkSize(s string) []error {
	n, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("upload_chunk_size: %w", err)}
	}

	if n < minChunkBytes || n > maxChunkBytes {
		return []error{fmt.Errorf("upload_chunk_size: must be between 1B and 1GB, got %q", s)}
	}

	return nil
}

func validateBandwidthLimit(s string) []error {
	trimmed := strings.TrimSpace(s)
	if strings.HasSuffix(strings.ToLower(trimmed), "/s") {
		trimmed = trimmed[:len(trimmed)-len("/s")]
	}

	if _, err := ParseSize(trimmed); err != nil {
		return []error{fmt.Errorf("bandwidth_limit: %w", err)}
	}

	return nil
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if _, ok := logLevels[l.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of text, json; got %q", l.LogFormat))
	}

	return errs
}
