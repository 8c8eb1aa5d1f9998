// Package config provides the configuration schema and loader for the
// socobo bot.
package config

// LogLevel controls log verbosity for the bot.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreKind selects the credential store implementation.
type StoreKind string

const (
	// StoreFile keeps credentials in a local YAML file.
	StoreFile StoreKind = "file"

	// StorePostgres keeps credentials in a PostgreSQL table.
	StorePostgres StoreKind = "postgres"
)

// IsValid reports whether k is a recognised store kind.
func (k StoreKind) IsValid() bool {
	return k == StoreFile || k == StorePostgres
}

// Config is the root configuration structure for socobo.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Backend   BackendConfig   `yaml:"backend"`
	Allowlist []string        `yaml:"allowlist"`
	Creds     CredStoreConfig `yaml:"credentials"`

	// DefaultDevice is the device ID used for identities that have no
	// stored device of their own.
	DefaultDevice string `yaml:"default_device"`
}

// ServerConfig holds the ops HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the ops server (metrics, health)
	// listens on (e.g., ":8080"). Empty disables the ops server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds Discord bot credentials and scoping.
type DiscordConfig struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// GuildID is the target guild. Empty registers commands globally.
	GuildID string `yaml:"guild_id"`
}

// BackendConfig is the optional global Sonos backend. When Endpoint is set,
// users who never logged in still get a working bot; per-user logins always
// take precedence.
type BackendConfig struct {
	// Endpoint is the backend base URL (trailing slash tolerated).
	Endpoint string `yaml:"endpoint"`

	// Secret is the bearer token for the global endpoint, if any.
	Secret string `yaml:"secret"`
}

// CredStoreConfig selects and configures the credential store.
type CredStoreConfig struct {
	// Kind selects the implementation. Defaults to "file".
	Kind StoreKind `yaml:"kind"`

	// File is the YAML file path for the file store.
	File string `yaml:"file"`

	// PostgresDSN is the connection string for the postgres store.
	PostgresDSN string `yaml:"postgres_dsn"`
}
