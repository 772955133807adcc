package config

// Default values for configuration options. A config file only needs the
// model coordinates and one set of credentials.
const (
	defaultAuthURL         = "https://auth.anaplan.com/token/authenticate"
	defaultBaseURL         = "https://api.anaplan.com/2/0"
	defaultTimeout         = "30s"
	defaultStatusPollDelay = "1s"
	defaultUploadParallel  = true
	defaultUploadWorkers   = 4
	defaultUploadChunkSize = "25MB"
	defaultBandwidthLimit  = "0"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		ConnectionConfig: ConnectionConfig{
			AuthURL: defaultAuthURL,
			BaseURL: defaultBaseURL,
			Timeout: defaultTimeout,
		},
		TasksConfig: TasksConfig{
			StatusPollDelay: defaultStatusPollDelay,
		},
		UploadConfig: UploadConfig{
			UploadParallel:  defaultUploadParallel,
			UploadWorkers:   defaultUploadWorkers,
			UploadChunkSize: defaultUploadChunkSize,
			BandwidthLimit:  defaultBandwidthLimit,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
