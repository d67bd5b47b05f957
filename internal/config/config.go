// Package config loads the TOML configuration file recognized by the
// server: base URL, database connection, workspace topology, upstream SAML
// IdP, and token signing options.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration shape, deserialized directly from TOML.
type Config struct {
	BaseURL             string `toml:"base_url"`
	PathPrefix          string `toml:"path_prefix"`
	Port                uint16 `toml:"port"`
	JwksURL             string `toml:"jwks_url"`
	JwksRefreshInterval *int64 `toml:"jwks_refresh_interval"`

	Database  Database  `toml:"database"`
	Workspace Workspace `toml:"workspace"`
	UpstreamIdP UpstreamIdP `toml:"upstream_idp"`
	Token     Token     `toml:"token"`
}

// Database holds connection coordinates and the authentication method.
type Database struct {
	Host         string `toml:"host"`
	Port         uint16 `toml:"port"`
	DatabaseName string `toml:"database_name"`
	Auth         DatabaseAuth `toml:"auth"`
}

// DatabaseAuth is a sum type over credential and RDS IAM authentication,
// discriminated by which pointer is non-nil after decode.
type DatabaseAuth struct {
	Credential *CredentialAuth `toml:"credential"`
	RdsIamAuth *RdsIamAuth     `toml:"rds_iam_auth"`
}

type CredentialAuth struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type RdsIamAuth struct {
	Username string `toml:"username"`
}

// Workspace selects static (single fixed workspace) or dynamic
// (claim-derived, multi-tenant) topology.
type Workspace struct {
	Mode WorkspaceMode `toml:"mode"`
	Name string        `toml:"name"`
}

type WorkspaceMode string

const (
	WorkspaceModeStatic  WorkspaceMode = "static"
	WorkspaceModeDynamic WorkspaceMode = "dynamic"
)

// UpstreamIdP wraps the SAML identity provider configuration.
type UpstreamIdP struct {
	SAML SAML `toml:"saml"`
}

type SAML struct {
	SSOURL        string            `toml:"sso_url"`
	IdpIssuer     string            `toml:"idp_issuer"`
	EntityID      string            `toml:"entity_id"`
	CA            string            `toml:"ca"`
	Attributes    map[string]string `toml:"attributes"`
	AdminRole     AdminRole         `toml:"admin_role"`
}

type AdminRole struct {
	Attribute string `toml:"attribute"`
	Value     string `toml:"value"`
}

// Token controls signed-token minting.
type Token struct {
	LifetimeSeconds int64  `toml:"lifetime"`
	Jwks            string `toml:"jwks"`
	JwkKid          string `toml:"jwk_kid"`
}

// Load reads and parses the TOML file at path, then validates required
// fields. Returns an error wrapping any decode or validation failure; the
// caller (cmd/nebula-server) treats this as an unrecoverable init failure.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if c.JwksURL == "" {
		return fmt.Errorf("jwks_url is required")
	}
	if c.Database.Host == "" || c.Database.DatabaseName == "" {
		return fmt.Errorf("database.host and database.database_name are required")
	}
	if c.Database.Auth.Credential == nil && c.Database.Auth.RdsIamAuth == nil {
		return fmt.Errorf("database.auth requires either credential or rds_iam_auth")
	}
	switch c.Workspace.Mode {
	case WorkspaceModeStatic:
		if c.Workspace.Name == "" {
			return fmt.Errorf("workspace.name is required in static mode")
		}
	case WorkspaceModeDynamic:
	default:
		return fmt.Errorf("workspace.mode must be %q or %q", WorkspaceModeStatic, WorkspaceModeDynamic)
	}
	if c.Token.LifetimeSeconds <= 0 {
		return fmt.Errorf("token.lifetime must be positive")
	}
	return nil
}

// RedirectURI computes the SP callback URL: <base_url>[/<path_prefix>]/callback/saml.
func (c *Config) RedirectURI() string {
	prefix := c.PathPrefix
	if prefix != "" {
		return c.BaseURL + "/" + prefix + "/callback/saml"
	}
	return c.BaseURL + "/callback/saml"
}
