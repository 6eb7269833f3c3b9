// Package config loads service configuration from config.yaml, the environment
// and built-in defaults, in that order of precedence (env wins).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ruanjf/nocobase-plugins/internal/utils"
)

const (
	AuthenticatorTypeDingTalk = "dingtalk"
	AuthenticatorTypeBasic    = "basic"
)

type Config struct {
	Server         ServerConfig          `mapstructure:"server"`
	Log            LogConfig             `mapstructure:"log"`
	Database       DatabaseConfig        `mapstructure:"database"`
	Redis          RedisConfig           `mapstructure:"redis"`
	Session        SessionConfig         `mapstructure:"session"`
	DingTalk       DingTalkConfig        `mapstructure:"dingtalk"`
	Authenticators []AuthenticatorConfig `mapstructure:"authenticators"`

	secretGenerated bool
}

type ServerConfig struct {
	Port int `mapstructure:"port"`

	// PublicURL is the externally visible base URL used to build OAuth
	// callback URLs. When empty it is derived from the incoming request.
	PublicURL string `mapstructure:"public_url"`
	// PublicPath is appended to a derived base URL.
	PublicPath string `mapstructure:"public_path"`
	// DefaultRedirect is where a successful sign-in lands when the
	// request carries no redirect of its own.
	DefaultRedirect string `mapstructure:"default_redirect"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SessionConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// DingTalkConfig holds provider endpoints shared by all DingTalk
// authenticators. Overridable so tests and proxies can point elsewhere.
type DingTalkConfig struct {
	APIBaseURL   string        `mapstructure:"api_base_url"`
	OAPIBaseURL  string        `mapstructure:"oapi_base_url"`
	LoginBaseURL string        `mapstructure:"login_base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
}

// AuthenticatorConfig configures one named authenticator instance.
type AuthenticatorConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`

	AutoSignup    bool   `mapstructure:"auto_signup"`
	MatchStrategy string `mapstructure:"match_strategy"`
	// EmailDomains is a comma-separated list, see Domains.
	EmailDomains string `mapstructure:"email_domains"`
	AppKey       string `mapstructure:"app_key"`
	AppSecret    string `mapstructure:"app_secret"`
}

// Domains parses EmailDomains into a de-duplicated list, dropping blanks.
func (a AuthenticatorConfig) Domains() []string {
	return ParseDomains(a.EmailDomains)
}

// ParseDomains splits a comma-separated domain list.
func ParseDomains(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		d := strings.TrimSpace(part)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// InitFlags registers command line flags without parsing them.
func InitFlags() {
	pflag.String("config", "", "Path to a config file (yaml)")
}

// Load reads configuration. Environment variables use the nested key with
// dots replaced by underscores: server.port -> SERVER_PORT.
func Load() (*Config, error) {
	v := viper.New()

	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dingtalk-auth")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ensureSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for configuration errors that would only surface at
// sign-in time otherwise.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session.secret must be at least 32 characters")
	}

	names := make(map[string]struct{}, len(c.Authenticators))
	for i, a := range c.Authenticators {
		if a.Name == "" {
			return fmt.Errorf("authenticators[%d].name must not be empty", i)
		}
		if _, dup := names[a.Name]; dup {
			return fmt.Errorf("authenticator %q defined more than once", a.Name)
		}
		names[a.Name] = struct{}{}

		switch a.Type {
		case AuthenticatorTypeBasic:
		case AuthenticatorTypeDingTalk:
			if a.AppKey == "" || a.AppSecret == "" {
				return fmt.Errorf("authenticator %q: app_key and app_secret are required", a.Name)
			}
			switch a.MatchStrategy {
			case "personalEmail", "orgEmail", "mobile":
			default:
				return fmt.Errorf("authenticator %q: unknown match_strategy %q", a.Name, a.MatchStrategy)
			}
		default:
			return fmt.Errorf("authenticator %q: unknown type %q", a.Name, a.Type)
		}
	}
	return nil
}

// ensureSecrets generates a session secret when none is configured.
// Sessions then do not survive a restart.
func (c *Config) ensureSecrets() {
	if c.Session.Secret != "" {
		return
	}
	c.Session.Secret = utils.RandomString(32)
	c.secretGenerated = true
}

// SecretGenerated reports whether the session secret was generated at load.
func (c *Config) SecretGenerated() bool {
	return c.secretGenerated
}

// setDefaults registers every key, so that env overrides reach Unmarshal
// even without a config file.
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.public_path", "/")
	v.SetDefault("server.default_redirect", "/")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.url", "postgres://postgres@localhost:5432/auth?sslmode=disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Session
	v.SetDefault("session.secret", "")
	v.SetDefault("session.issuer", "dingtalk-auth")
	v.SetDefault("session.ttl", "24h")

	// DingTalk endpoints
	v.SetDefault("dingtalk.api_base_url", "https://api.dingtalk.com")
	v.SetDefault("dingtalk.oapi_base_url", "https://oapi.dingtalk.com")
	v.SetDefault("dingtalk.login_base_url", "https://login.dingtalk.com")
	v.SetDefault("dingtalk.http_timeout", "10s")
}
