package anaplan

import (
	"github.com/tonimelisma/anaplan-go/internal/api"
	"github.com/tonimelisma/anaplan-go/internal/auth"
	"github.com/tonimelisma/anaplan-go/internal/config"
	"github.com/tonimelisma/anaplan-go/internal/ledger"
)

// Credentials select the authentication protocol. Build them with
// BasicCredentials or CertificateCredentials.
type Credentials = auth.Credentials

// Material is a certificate or private key, given as a file path or as raw
// PEM bytes.
type Material = auth.Material

// BasicCredentials authenticates with an email and password.
func BasicCredentials(email, password string) (Credentials, error) {
	return auth.NewBasic(email, password)
}

// CertificateCredentials authenticates with a CA certificate and its RSA
// private key. keyPassword may be nil for an unencrypted key.
func CertificateCredentials(certificate, privateKey Material, keyPassword []byte) (Credentials, error) {
	return auth.NewCertificate(certificate, privateKey, keyPassword)
}

// MaterialFile refers to PEM material on disk.
func MaterialFile(path string) Material { return auth.File(path) }

// MaterialBytes holds PEM material in memory. The slice is copied.
func MaterialBytes(data []byte) Material { return auth.Bytes(data) }

// Action and task types.
type (
	ActionID   = api.ActionID
	Family     = api.Family
	Task       = api.Task
	Phase      = api.Phase
	TaskState  = api.TaskState
	TaskStatus = api.TaskStatus
	TaskResult = api.TaskResult
	TaskDetail = api.TaskDetail
)

// Task phases.
const (
	PhaseInvoked  = api.PhaseInvoked
	PhaseComplete = api.PhaseComplete
)

// Action families.
const (
	FamilyImports   = api.FamilyImports
	FamilyExports   = api.FamilyExports
	FamilyActions   = api.FamilyActions
	FamilyProcesses = api.FamilyProcesses
)

// Upload types.
type (
	Chunk        = api.Chunk
	UploadJob    = api.UploadJob
	UploadResult = api.UploadResult
)

// SplitChunks partitions content into chunks of size bytes.
func SplitChunks(content []byte, size int64) ([]Chunk, error) {
	return api.SplitChunks(content, size)
}

// Listing records.
type (
	Workspace = api.Workspace
	Model     = api.Model
	Action    = api.Action
	Import    = api.Import
	Export    = api.Export
	Process   = api.Process
	File      = api.File
	List      = api.List
)

// Run journal records.
type (
	TaskRun      = ledger.TaskRun
	UploadRecord = ledger.UploadRecord
)

// Config is the file and environment configuration of a client.
type Config = config.Config

// LoadConfig resolves configuration from the file at path (or ANAPLAN_CONFIG,
// or the default location) and the ANAPLAN_* environment variables.
func LoadConfig(path string) (*Config, error) {
	return config.Resolve(path, config.ReadEnvOverrides())
}
