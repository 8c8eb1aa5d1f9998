package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultCredsFile is where the file credential store lives when the config
// does not say otherwise.
const defaultCredsFile = "credentials.yaml"

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if cfg.Creds.Kind == "" {
		cfg.Creds.Kind = StoreFile
	}
	if cfg.Creds.Kind == StoreFile && cfg.Creds.File == "" {
		cfg.Creds.File = defaultCredsFile
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}

	if !cfg.Creds.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("credentials.kind %q is invalid; valid values: file, postgres", cfg.Creds.Kind))
	}
	if cfg.Creds.Kind == StorePostgres && cfg.Creds.PostgresDSN == "" {
		errs = append(errs, errors.New("credentials.postgres_dsn is required when credentials.kind is postgres"))
	}

	if cfg.Backend.Secret != "" && cfg.Backend.Endpoint == "" {
		errs = append(errs, errors.New("backend.secret is set but backend.endpoint is empty"))
	}

	if len(cfg.Allowlist) == 0 {
		slog.Warn("allowlist is empty; every command will be rejected")
	}
	for i, rule := range cfg.Allowlist {
		if strings.TrimSpace(rule) == "" {
			errs = append(errs, fmt.Errorf("allowlist[%d] is empty", i))
			continue
		}
		// Rules that are neither identities nor domain suffixes are used as
		// regular expressions; warn early about ones that will never compile.
		if !strings.HasPrefix(rule, "@") && !strings.HasPrefix(rule, ":") {
			if _, err := regexp.Compile(rule); err != nil {
				slog.Warn("allowlist rule does not compile as a regular expression; it will only match exactly",
					"rule", rule, "err", err)
			}
		}
	}

	if cfg.Backend.Endpoint == "" && cfg.DefaultDevice != "" {
		slog.Warn("default_device is set without a global backend.endpoint; it only applies once users log in")
	}

	return errors.Join(errs...)
}
