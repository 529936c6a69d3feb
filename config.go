package obsidian

import (
	"net"

	"github.com/dpup/obsidian/internal/config"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Filename of the standard configuration file.
const ConfigFile = "obsidian.yaml"

// ConfigKeyInfo describes a known configuration key.
type ConfigKeyInfo = config.KeyInfo

// Config is a global koanf instance used to access server configuration.
//
// Config is loaded in the following order (later sources override earlier):
// 1. Registered defaults
// 2. Auto-discovered obsidian.yaml
// 3. Environment variables with the OB__ prefix
// 4. Additional sources loaded via LoadConfigFile() or LoadConfigDefaults()
//
// Environment variable transformation:
//   - OB__SERVER__PORT → server.port
//   - OB__OAUTH20__ACCESS_TOKEN_EXPIRY → oauth20.accessTokenExpiry
var Config = koanf.New(".")

const (
	defaultPort = "8000"
	defaultHost = "localhost"
)

func init() {
	registerCoreConfigKeys()
	if err := Config.Load(confmap.Provider(config.Defaults(), "."), nil); err != nil {
		panic("error loading config defaults: " + err.Error())
	}

	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	if err := Config.Load(env.Provider(config.EnvPrefix, ".", config.TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// RegisterConfigKeys documents configuration keys. Defaults of keys
// registered after init are applied by LoadConfigDefaults or ValidateConfig.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.Register(infos...)
}

// LoadConfigFile loads additional configuration from a YAML file.
func LoadConfigFile(path string) error {
	return Config.Load(file.Provider(path), yaml.Parser())
}

// LoadConfigDefaults loads default values that files and env vars can
// override.
func LoadConfigDefaults(defaults map[string]any) error {
	if err := Config.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return err
	}
	config.ApplyDefaults(Config)
	return nil
}

// ValidateConfig applies late registered defaults and returns a description
// of unknown or deprecated keys, or "" if there are none.
func ValidateConfig() string {
	config.ApplyDefaults(Config)
	return config.FormatWarnings(config.Validate(Config))
}

func registerCoreConfigKeys() {
	registerServerConfigKeys()
	registerSecurityConfigKeys()
	registerOAuthConfigKeys()
	registerStorageConfigKeys()
}

func registerServerConfigKeys() {
	config.Register(
		ConfigKeyInfo{
			Key:         "name",
			Description: "User-facing name of the authorization server",
			Type:        "string",
			Default:     "Obsidian",
		},
		ConfigKeyInfo{
			Key:         "address",
			Description: "External address of the server",
			Type:        "string",
			Default:     "http://" + net.JoinHostPort(defaultHost, defaultPort),
		},
		ConfigKeyInfo{
			Key:         "server.host",
			Description: "Host to bind the server to",
			Type:        "string",
			Default:     defaultHost,
		},
		ConfigKeyInfo{
			Key:         "server.port",
			Description: "Port to bind the server to",
			Type:        "int",
			Default:     defaultPort,
		},
		ConfigKeyInfo{
			Key:         "server.shutdownTimeout",
			Description: "Time allowed for in-flight requests to drain on shutdown",
			Type:        "duration",
			Default:     "5s",
		},
		ConfigKeyInfo{
			Key:         "server.tls.certFile",
			Description: "Path to TLS certificate file",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "server.tls.keyFile",
			Description: "Path to TLS key file",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "eventbus.workers",
			Description: "Size of the event bus worker pool",
			Type:        "int",
			Default:     100,
		},
	)
}

func registerSecurityConfigKeys() {
	config.Register(
		ConfigKeyInfo{
			Key:         "server.security.xFramesOptions",
			Description: "X-Frame-Options header value",
			Type:        "string",
			Default:     string(XFramesOptionsDeny),
		},
		ConfigKeyInfo{
			Key:         "server.security.hstsExpiration",
			Description: "HSTS max-age duration",
			Type:        "duration",
		},
		ConfigKeyInfo{
			Key:         "server.security.hstsIncludeSubdomains",
			Description: "Include subdomains in HSTS",
			Type:        "bool",
		},
		ConfigKeyInfo{
			Key:         "server.security.hstsPreload",
			Description: "Enable HSTS preload",
			Type:        "bool",
		},
		ConfigKeyInfo{
			Key:         "server.security.corsOrigins",
			Description: "Origins allowed to call the token endpoints",
			Type:        "[]string",
		},
		ConfigKeyInfo{
			Key:         "server.security.corsAllowMethods",
			Description: "Allowed CORS methods",
			Type:        "[]string",
		},
		ConfigKeyInfo{
			Key:         "server.security.corsAllowHeaders",
			Description: "Allowed CORS headers",
			Type:        "[]string",
		},
		ConfigKeyInfo{
			Key:         "server.security.corsExposeHeaders",
			Description: "CORS headers to expose to the browser",
			Type:        "[]string",
		},
		ConfigKeyInfo{
			Key:         "server.security.corsAllowCredentials",
			Description: "Allow credentials in CORS requests",
			Type:        "bool",
		},
		ConfigKeyInfo{
			Key:         "server.security.corsMaxAge",
			Description: "CORS preflight cache duration",
			Type:        "duration",
		},
	)
}

func registerOAuthConfigKeys() {
	config.Register(
		ConfigKeyInfo{
			Key:         "saga.ttl",
			Description: "Idle time after which a pending grant is discarded",
			Type:        "duration",
			Default:     "20m",
		},
		ConfigKeyInfo{
			Key:         "saga.sweepInterval",
			Description: "How often expired grants are swept",
			Type:        "duration",
			Default:     "1m",
		},
		ConfigKeyInfo{
			Key:         "saga.shards",
			Description: "Number of lock shards in the saga registry",
			Type:        "int",
			Default:     32,
		},
		ConfigKeyInfo{
			Key:         "oauth20.signingKey",
			Description: "Key used to sign authentication tokens and protected grant contexts",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "oauth20.issuer",
			Description: "Issuer claim of authentication tokens",
			Type:        "string",
			Default:     "obsidian",
		},
		ConfigKeyInfo{
			Key:         "oauth20.codeExpiry",
			Description: "Lifetime of authorization codes",
			Type:        "duration",
			Default:     "10m",
		},
		ConfigKeyInfo{
			Key:         "oauth20.accessTokenExpiry",
			Description: "Lifetime of access tokens",
			Type:        "duration",
			Default:     "1h",
		},
		ConfigKeyInfo{
			Key:         "oauth20.refreshTokenExpiry",
			Description: "Lifetime of refresh tokens",
			Type:        "duration",
			Default:     "336h",
		},
		ConfigKeyInfo{
			Key:         "oauth20.contextExpiry",
			Description: "Lifetime of the protected context embedded in sign in and consent pages",
			Type:        "duration",
			Default:     "30m",
		},
		ConfigKeyInfo{
			Key:         "identity.signingKey",
			Description: "Key used to sign session cookies",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "identity.cookieName",
			Description: "Name of the session cookie",
			Type:        "string",
			Default:     "ob-id",
		},
		ConfigKeyInfo{
			Key:         "identity.expiration",
			Description: "Lifetime of a remembered session",
			Type:        "duration",
			Default:     "336h",
		},
	)
}

func registerStorageConfigKeys() {
	config.Register(
		ConfigKeyInfo{
			Key:         "storage.driver",
			Description: "Storage backend: memory, sqlite or postgres",
			Type:        "string",
			Default:     "memory",
		},
		ConfigKeyInfo{
			Key:         "storage.dsn",
			Description: "Data source name for the sqlite and postgres drivers",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "storage.prefix",
			Description: "Prefix of the storage table",
			Type:        "string",
			Default:     "obsidian_",
		},
		ConfigKeyInfo{
			Key:         "storage.schema",
			Description: "Postgres schema holding the storage table",
			Type:        "string",
			Default:     "public",
		},
	)
}
