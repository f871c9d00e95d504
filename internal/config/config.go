// Package config reads and writes the credentials file. The file maps a
// config key to one app registration's credentials plus the saved refresh
// token, so several accounts can share one file. JSON, TOML and YAML are
// supported, chosen by file extension; keys other than the one being
// operated on are preserved on save.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
)

// DefaultKey is the config file section used when the caller does not
// choose one.
const DefaultKey = "onedrive"

// Credentials files hold secrets, so they are owner-only.
const (
	FilePerms = 0o600
	DirPerms  = 0o700
)

// Credentials is one app registration plus its saved refresh token.
type Credentials struct {
	TenantID          string `json:"tenant_id"           toml:"tenant_id"           yaml:"tenant_id"`
	ClientID          string `json:"client_id"           toml:"client_id"           yaml:"client_id"`
	ClientSecretValue string `json:"client_secret_value" toml:"client_secret_value" yaml:"client_secret_value"`
	RedirectURL       string `json:"redirect_url"        toml:"redirect_url"        yaml:"redirect_url"`
	RefreshToken      string `json:"refresh_token"       toml:"refresh_token"       yaml:"refresh_token"`
}

// codec pairs the marshal/unmarshal functions for one file format.
type codec struct {
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

func codecFor(path string) (codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return codec{
			marshal:   func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") },
			unmarshal: json.Unmarshal,
		}, nil
	case ".toml":
		return codec{marshal: tomlMarshal, unmarshal: toml.Unmarshal}, nil
	case ".yaml", ".yml":
		return codec{marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}, nil
	default:
		return codec{}, fmt.Errorf("config: unsupported file extension %q (expected .json, .toml, .yaml or .yml)",
			filepath.Ext(path))
	}
}

func tomlMarshal(v any) ([]byte, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(v); err != nil {
		return nil, err
	}

	return []byte(b.String()), nil
}

// Load reads the credentials stored under key. An empty key means
// DefaultKey.
func Load(path, key string) (*Credentials, error) {
	if key == "" {
		key = DefaultKey
	}

	c, err := codecFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var file map[string]any
	if err := c.unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	section, ok := file[key]
	if !ok {
		return nil, fmt.Errorf("config: %s has no %q key", path, key)
	}

	// Round-trip the section through the codec to apply the field tags.
	raw, err := c.marshal(section)
	if err != nil {
		return nil, fmt.Errorf("config: re-encoding %q section: %w", key, err)
	}

	var creds Credentials
	if err := c.unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("config: decoding %q section: %w", key, err)
	}

	if creds.ClientID == "" {
		return nil, fmt.Errorf("config: %s key %q is missing client_id", path, key)
	}

	return &creds, nil
}

// Save writes the credentials under key, creating the file when it does
// not exist and preserving every other key when it does.
func Save(path, key string, creds *Credentials) error {
	if key == "" {
		key = DefaultKey
	}

	c, err := codecFor(path)
	if err != nil {
		return err
	}

	file := map[string]any{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("config: reading %s: %w", path, err)
	default:
		if err := c.unmarshal(data, &file); err != nil {
			return fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	file[key] = creds

	out, err := c.marshal(file)
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	return writeFileAtomic(path, out)
}

// writeFileAtomic writes via a temp file in the same directory plus a
// rename, so a crash cannot leave a partial credentials file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
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

		return fmt.Errorf("config: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("config: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("config: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: renaming: %w", err)
	}

	success = true

	return nil
}
