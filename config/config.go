// Package config loads the YAML file describing an IMAP account and turns it
// into imapnio options.
package config

import (
	"crypto/tls"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Zereker/imapnio"
)

// Authentication mechanisms.
const (
	MechanismLogin = "login"
	MechanismPlain = "plain"
)

// Config is the content of an account file.
type Config struct {
	Address  string        `yaml:"address"`
	TLS      TLSConfig     `yaml:"tls"`
	Auth     AuthConfig    `yaml:"auth"`
	Session  SessionConfig `yaml:"session"`
	Compress bool          `yaml:"compress"`
	Log      LogConfig     `yaml:"log"`
}

// TLSConfig enables implicit TLS (port 993).
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// AuthConfig holds the account credentials.
type AuthConfig struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Mechanism string `yaml:"mechanism"`
}

// SessionConfig mirrors the imapnio session options. Zero values keep the
// library defaults.
type SessionConfig struct {
	IdleTimeout    Duration `yaml:"idle_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	DialTimeout    Duration `yaml:"dial_timeout"`
	MaxLineLength  int      `yaml:"max_line_length"`
	ReadBufferSize int      `yaml:"read_buffer_size"`
	TagPrefix      string   `yaml:"tag_prefix"`
}

// LogConfig selects the CLI log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration for YAML strings such as "30s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	d.Duration = parsed
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// Unset variables without a default expand to the empty string.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		return groups[2]
	})
}

// Load reads path, expands environment variables and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("config file not found: %s", path)
		}
		return nil, errors.Wrapf(err, "cannot read config file %q", path)
	}

	return Parse([]byte(ExpandEnv(string(data))))
}

// Parse decodes and validates YAML that has already been expanded.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "invalid YAML")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields and fills in derived defaults.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return errors.Wrapf(err, "invalid address %q", c.Address)
	}

	c.Auth.Mechanism = strings.ToLower(c.Auth.Mechanism)
	switch c.Auth.Mechanism {
	case "":
		c.Auth.Mechanism = MechanismLogin
	case MechanismLogin, MechanismPlain:
	default:
		return errors.Errorf("unsupported auth mechanism %q", c.Auth.Mechanism)
	}

	if c.Session.MaxLineLength < 0 || c.Session.ReadBufferSize < 0 {
		return errors.New("session sizes must not be negative")
	}
	return nil
}

// HasCredentials reports whether the file configures a login.
func (c *Config) HasCredentials() bool {
	return c.Auth.Username != ""
}

// TLSClientConfig returns the TLS configuration for Dial, or nil when TLS is
// disabled.
func (c *Config) TLSClientConfig() *tls.Config {
	if !c.TLS.Enabled {
		return nil
	}
	return &tls.Config{
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

// Options converts the file into session options. Extra options are applied
// last and win.
func (c *Config) Options(extra ...imapnio.Option) []imapnio.Option {
	var opts []imapnio.Option

	if tlsConfig := c.TLSClientConfig(); tlsConfig != nil {
		opts = append(opts, imapnio.TLSOption(tlsConfig))
	}
	if d := c.Session.IdleTimeout.Duration; d > 0 {
		opts = append(opts, imapnio.IdleTimeoutOption(d))
	}
	if d := c.Session.WriteTimeout.Duration; d > 0 {
		opts = append(opts, imapnio.WriteTimeoutOption(d))
	}
	if d := c.Session.DialTimeout.Duration; d > 0 {
		opts = append(opts, imapnio.DialTimeoutOption(d))
	}
	if n := c.Session.MaxLineLength; n > 0 {
		opts = append(opts, imapnio.MaxLineLengthOption(n))
	}
	if n := c.Session.ReadBufferSize; n > 0 {
		opts = append(opts, imapnio.ReadBufferSizeOption(n))
	}
	if p := c.Session.TagPrefix; p != "" {
		opts = append(opts, imapnio.TagPrefixOption(p))
	}

	return append(opts, extra...)
}
