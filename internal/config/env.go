package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig             = "ANAPLAN_CONFIG"
	EnvEmail              = "ANAPLAN_EMAIL"
	EnvPassword           = "ANAPLAN_PASSWORD"
	EnvCertificate        = "ANAPLAN_CERTIFICATE"
	EnvPrivateKey         = "ANAPLAN_PRIVATE_KEY"
	EnvPrivateKeyPassword = "ANAPLAN_PRIVATE_KEY_PASSWORD"
	EnvWorkspaceID        = "ANAPLAN_WORKSPACE_ID"
	EnvModelID            = "ANAPLAN_MODEL_ID"
)

// EnvOverrides holds values derived from environment variables. Empty fields
// leave the file value in place.
type EnvOverrides struct {
	ConfigPath         string
	UserEmail          string
	Password           string
	Certificate        string
	PrivateKey         string
	PrivateKeyPassword string
	WorkspaceID        string
	ModelID            string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:         os.Getenv(EnvConfig),
		UserEmail:          os.Getenv(EnvEmail),
		Password:           os.Getenv(EnvPassword),
		Certificate:        os.Getenv(EnvCertificate),
		PrivateKey:         os.Getenv(EnvPrivateKey),
		PrivateKeyPassword: os.Getenv(EnvPrivateKeyPassword),
		WorkspaceID:        os.Getenv(EnvWorkspaceID),
		ModelID:            os.Getenv(EnvModelID),
	}
}

// Apply copies every non-empty override into cfg.
func (e EnvOverrides) Apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&cfg.UserEmail, e.UserEmail)
	set(&cfg.Password, e.Password)
	set(&cfg.Certificate, e.Certificate)
	set(&cfg.PrivateKey, e.PrivateKey)
	set(&cfg.PrivateKeyPassword, e.PrivateKeyPassword)
	set(&cfg.WorkspaceID, e.WorkspaceID)
	set(&cfg.ModelID, e.ModelID)
}
