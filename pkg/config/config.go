// Copyright 2026 University of Oslo
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the process configuration from a YAML file.
// The configuration is read once at startup and treated as immutable
// afterwards; it is passed down to the services explicitly.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/unioslo/tsd-file-api/pkg/utils/cfg"
)

// Config holds the full process configuration.
type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	// JWTSecrets maps a project number to the HMAC secret its tokens
	// are signed with. A project without a secret cannot authenticate.
	JWTSecrets map[string]string `mapstructure:"jwt_secrets" validate:"required"`

	// UploadsRoot maps a project number to the directory its uploads
	// land in. A project without a root is not configured for uploads.
	UploadsRoot    map[string]string `mapstructure:"uploads_root" validate:"required"`
	SnsUploadsRoot string            `mapstructure:"sns_uploads_root"`
	ExportRoot     map[string]string `mapstructure:"export_root"`

	// MaxBodyBytes caps multi-part form-data bodies. Streaming bodies
	// are unbounded modulo disk unless MaxStreamBytes is set.
	MaxBodyBytes   int64 `mapstructure:"max_body_bytes"`
	MaxStreamBytes int64 `mapstructure:"max_stream_bytes"`

	ResumableTTLSeconds int64 `mapstructure:"resumable_ttl_seconds"`

	GPGBinary   string `mapstructure:"gpg_binary"`
	GPGHomedir  string `mapstructure:"gpg_homedir"`
	GPGKeyring  string `mapstructure:"gpg_keyring"`
	GPGSecring  string `mapstructure:"gpg_secring"`
	PublicKeyID string `mapstructure:"public_key_id"`

	// ChownUploads controls whether stored files are chowned to the
	// authenticated user. Requires the process to run with CAP_CHOWN;
	// disabled in test deployments.
	ChownUploads bool `mapstructure:"chown_uploads"`
}

// ApplyDefaults fills in the documented default values.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 3003
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 40 * 1024 * 1024
	}
	if c.ResumableTTLSeconds == 0 {
		c.ResumableTTLSeconds = 24 * 60 * 60
	}
}

// ResumableTTL returns the idle TTL for abandoned resumable uploads.
func (c *Config) ResumableTTL() time.Duration {
	return time.Duration(c.ResumableTTLSeconds) * time.Second
}

// Load reads and decodes the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: error reading file")
	}
	return Parse(data)
}

// Parse decodes a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "config: error parsing yaml")
	}
	var c Config
	if err := cfg.Decode(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
