package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
)

// Kind identifies which protocol a Credentials value selects.
type Kind int

const (
	KindBasic Kind = iota + 1
	KindCertificate
)

func (k Kind) String() string {
	switch k {
	case KindBasic:
		return "basic"
	case KindCertificate:
		return "certificate"
	default:
		return "unknown"
	}
}

// Material is certificate or key content given either as a file path or as
// raw PEM bytes. The zero value is empty.
type Material struct {
	path string
	data []byte
}

// File refers to material stored at path. The file is read on every load so a
// rotated file is picked up on the next authentication.
func File(path string) Material {
	return Material{path: path}
}

// Bytes wraps raw PEM content. The slice is copied.
func Bytes(data []byte) Material {
	return Material{data: slices.Clone(data)}
}

// PathOrPEM treats s as a path when a regular file exists there, and as
// inline PEM content otherwise. Config files and environment variables accept
// either form.
func PathOrPEM(s string) Material {
	if s == "" {
		return Material{}
	}

	if info, err := os.Stat(s); err == nil && info.Mode().IsRegular() {
		return File(s)
	}

	return Bytes([]byte(s))
}

// IsZero reports whether no material was supplied.
func (m Material) IsZero() bool {
	return m.path == "" && len(m.data) == 0
}

// load returns the material bytes, reading the file if needed.
func (m Material) load() ([]byte, error) {
	if m.path == "" {
		return slices.Clone(m.data), nil
	}

	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s does not exist: %w", m.path, err)
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.path, err)
	}

	return data, nil
}

// Credentials holds exactly one of the two supported credential variants.
// It is immutable after construction.
type Credentials struct {
	kind        Kind
	email       string
	password    string
	certificate Material
	privateKey  Material
	keyPassword []byte
}

// NewBasic returns email/password credentials.
func NewBasic(email, password string) (Credentials, error) {
	if email == "" || password == "" {
		return Credentials{}, ErrIncompleteCredentials
	}

	return Credentials{kind: KindBasic, email: email, password: password}, nil
}

// NewCertificate returns CA certificate credentials. keyPassword may be nil
// for an unencrypted private key.
func NewCertificate(certificate, privateKey Material, keyPassword []byte) (Credentials, error) {
	if certificate.IsZero() || privateKey.IsZero() {
		return Credentials{}, ErrIncompleteCredentials
	}

	return Credentials{
		kind:        KindCertificate,
		certificate: certificate,
		privateKey:  privateKey,
		keyPassword: slices.Clone(keyPassword),
	}, nil
}

// Select picks the certificate variant when both certificate and key are
// present, otherwise the basic variant when both email and password are
// present. Anything else is ErrIncompleteCredentials.
func Select(email, password string, certificate, privateKey Material, keyPassword []byte) (Credentials, error) {
	if !certificate.IsZero() && !privateKey.IsZero() {
		return NewCertificate(certificate, privateKey, keyPassword)
	}

	if email != "" && password != "" {
		return NewBasic(email, password)
	}

	return Credentials{}, ErrIncompleteCredentials
}

// Kind returns the populated variant.
func (c Credentials) Kind() Kind {
	return c.kind
}

// String never includes secrets.
func (c Credentials) String() string {
	if c.kind == KindBasic {
		return fmt.Sprintf("basic(%s)", c.email)
	}

	return c.kind.String()
}

// Principal identifies who a token is issued to, without secrets: the email
// for basic credentials, or a SHA-256 fingerprint of the certificate.
func (c Credentials) Principal() (string, error) {
	switch c.kind {
	case KindBasic:
		return "basic:" + c.email, nil
	case KindCertificate:
		cert, err := c.certificate.load()
		if err != nil {
			return "", fmt.Errorf("auth: certificate: %w", err)
		}

		sum := sha256.Sum256(cert)

		return "certificate:" + hex.EncodeToString(sum[:]), nil
	default:
		return "", ErrIncompleteCredentials
	}
}
