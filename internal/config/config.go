// Package config resolves the process configuration once at startup from an
// optional file, PLANMEET_* environment variables and the variable names the
// services historically read.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/planmeet/planmeet/internal/identity"
	"github.com/planmeet/planmeet/internal/logging"
)

// Store drivers and identity modes.
const (
	DriverRedis    = "redis"
	DriverDynamoDB = "dynamodb"

	ModeDecode = "decode"
	ModeVerify = "verify"

	envPrefix = "PLANMEET"
)

// Config is the resolved configuration of both services.
type Config struct {
	Log       logging.Config `mapstructure:"log"`
	Checklist ServerConfig   `mapstructure:"checklist"`
	Gateway   ServerConfig   `mapstructure:"gateway"`
	Store     StoreConfig    `mapstructure:"store"`
	Identity  IdentityConfig `mapstructure:"identity"`
	Keycloak  KeycloakConfig `mapstructure:"keycloak"`
}

// ServerConfig configures one HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout     time.Duration `mapstructure:"idleTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
}

// StoreConfig selects and configures the checklist store.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Redis    RedisConfig    `mapstructure:"redis"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DynamoDBConfig configures the DynamoDB store. An empty endpoint uses the
// regional AWS endpoint.
type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// IdentityConfig controls how bearer tokens become actors.
type IdentityConfig struct {
	// Mode is "verify" to check signatures against the issuer, or "decode"
	// when a gateway in front of the service already did.
	Mode        string        `mapstructure:"mode"`
	IssuerURL   string        `mapstructure:"issuerURL"`
	ClientID    string        `mapstructure:"clientID"`
	AdminRole   string        `mapstructure:"adminRole"`
	ManagerRole string        `mapstructure:"managerRole"`
	TeamPrefix  string        `mapstructure:"teamPrefix"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// KeycloakConfig points the gateway at the identity provider.
type KeycloakConfig struct {
	URL          string        `mapstructure:"url"`
	Realm        string        `mapstructure:"realm"`
	ClientID     string        `mapstructure:"clientID"`
	ClientSecret string        `mapstructure:"clientSecret"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

var defaults = map[string]interface{}{
	"log.level":                 "info",
	"log.development":           false,
	"log.filename":              "",
	"log.maxSizeMB":             100,
	"log.maxBackups":            10,
	"log.maxAgeDays":            0,
	"checklist.addr":            ":5002",
	"checklist.readTimeout":     5 * time.Second,
	"checklist.writeTimeout":    10 * time.Second,
	"checklist.idleTimeout":     120 * time.Second,
	"checklist.shutdownTimeout": 5 * time.Second,
	"checklist.allowedOrigins":  []string{"*"},
	"gateway.addr":              ":5001",
	"gateway.readTimeout":       5 * time.Second,
	"gateway.writeTimeout":      10 * time.Second,
	"gateway.idleTimeout":       120 * time.Second,
	"gateway.shutdownTimeout":   5 * time.Second,
	"gateway.allowedOrigins":    []string{"*"},
	"store.driver":              DriverRedis,
	"store.timeout":             3 * time.Second,
	"store.redis.addr":          "localhost:6379",
	"store.redis.password":      "",
	"store.redis.db":            0,
	"store.dynamodb.table":      "",
	"store.dynamodb.region":     "",
	"store.dynamodb.endpoint":   "",
	"identity.mode":             ModeVerify,
	"identity.issuerURL":        "",
	"identity.clientID":         "",
	"identity.adminRole":        identity.DefaultPolicy.AdminRole,
	"identity.managerRole":      identity.DefaultPolicy.ManagerRole,
	"identity.teamPrefix":       identity.DefaultPolicy.TeamPrefix,
	"identity.timeout":          5 * time.Second,
	"keycloak.url":              "",
	"keycloak.realm":            "",
	"keycloak.clientID":         "",
	"keycloak.clientSecret":     "",
	"keycloak.timeout":          10 * time.Second,
}

// legacyEnv maps keys to the variable names the original deployment used.
var legacyEnv = map[string][]string{
	"checklist.addr":        {"HTTP_ADDR"},
	"store.redis.addr":      {"REDIS_ADDR"},
	"store.dynamodb.table":  {"DYNAMO_TABLE"},
	"store.dynamodb.region": {"AWS_REGION"},
	"keycloak.url":          {"KEYCLOAK_URL"},
	"keycloak.realm":        {"KEYCLOAK_REALM"},
	"keycloak.clientID":     {"KEYCLOAK_CLIENT_ID"},
	"keycloak.clientSecret": {"KEYCLOAK_CLIENT_SECRET"},
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, names := range legacyEnv {
		args := append([]string{k, envName(k)}, names...)
		_ = v.BindEnv(args...)
	}
	return v
}

// envName is the PLANMEET_* variable for key.
func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load reads the file at path, if any, on top of v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// IssuerURL is the configured issuer, or the realm issuer of the Keycloak
// server when none is set.
func (c *Config) IssuerURL() string {
	if c.Identity.IssuerURL != "" {
		return c.Identity.IssuerURL
	}
	if c.Keycloak.URL == "" || c.Keycloak.Realm == "" {
		return ""
	}
	return fmt.Sprintf("%s/realms/%s", strings.TrimRight(c.Keycloak.URL, "/"), c.Keycloak.Realm)
}

// Policy returns the role conventions for the claims reader.
func (c *Config) Policy() identity.Policy {
	return identity.Policy{
		AdminRole:   c.Identity.AdminRole,
		ManagerRole: c.Identity.ManagerRole,
		TeamPrefix:  c.Identity.TeamPrefix,
	}
}

// ValidateChecklist checks the settings the checklist service needs.
func (c *Config) ValidateChecklist() error {
	switch c.Store.Driver {
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required")
		}
	case DriverDynamoDB:
		if c.Store.DynamoDB.Table == "" {
			return fmt.Errorf("store.dynamodb.table is required")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return c.validateIdentity()
}

// ValidateGateway checks the settings the authentication gateway needs.
func (c *Config) ValidateGateway() error {
	if c.Keycloak.URL == "" || c.Keycloak.Realm == "" || c.Keycloak.ClientID == "" {
		return fmt.Errorf("keycloak.url, keycloak.realm and keycloak.clientID are required")
	}
	return c.validateIdentity()
}

func (c *Config) validateIdentity() error {
	switch c.Identity.Mode {
	case ModeDecode:
	case ModeVerify:
		if c.IssuerURL() == "" {
			return fmt.Errorf("identity.issuerURL or keycloak.url and keycloak.realm are required in verify mode")
		}
	default:
		return fmt.Errorf("unknown identity mode %q", c.Identity.Mode)
	}
	if c.Identity.AdminRole == "" {
		return fmt.Errorf("identity.adminRole is required")
	}
	return nil
}
