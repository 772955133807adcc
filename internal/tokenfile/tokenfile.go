// Package tokenfile persists the most recent Anaplan auth token so a new
// process can reuse it instead of authenticating again. The token is stored
// as an oauth2.Token with token type AnaplanAuthToken, alongside metadata
// naming the principal it was issued to.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// TokenType is the authorization scheme of Anaplan auth tokens.
const TokenType = "AnaplanAuthToken"

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// Metadata keys.
const (
	MetaPrincipal = "principal"
	MetaSavedAt   = "saved_at"
)

// File is the on-disk format for token files.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// NewToken wraps a raw token value in an oauth2.Token carrying the Anaplan
// authorization scheme.
func NewToken(value string) *oauth2.Token {
	return &oauth2.Token{AccessToken: value, TokenType: TokenType}
}

// Load reads a saved token file from disk. Returns (nil, nil, nil) if the
// file does not exist.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil || tf.Token.AccessToken == "" {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field", path)
	}

	if tf.Token.TokenType != TokenType {
		return nil, nil, fmt.Errorf("tokenfile: %s has token type %q, want %q", path, tf.Token.TokenType, TokenType)
	}

	return tf.Token, tf.Meta, nil
}

// LoadFor returns the cached token value when it was issued to principal.
// A missing file or a token issued to someone else yields "" without error,
// so the caller authenticates afresh.
func LoadFor(path, principal string) (string, error) {
	tok, meta, err := Load(path)
	if err != nil || tok == nil {
		return "", err
	}

	if meta[MetaPrincipal] != principal {
		return "", nil
	}

	return tok.AccessToken, nil
}

// SaveFor stores value as the current token for principal.
func SaveFor(path, principal, value string) error {
	return Save(path, NewToken(value), map[string]string{
		MetaPrincipal: principal,
		MetaSavedAt:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Save writes a token file to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs token values.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	tf := File{Token: tok, Meta: meta}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the token file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}
