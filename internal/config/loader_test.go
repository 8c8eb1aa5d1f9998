package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
discord:
  token: "Bot abc123"
  guild_id: "guild-1"
backend:
  endpoint: "https://sonos.example/"
allowlist:
  - "@alice:vibb.me"
  - ":vibb.me"
credentials:
  kind: file
  file: "/var/lib/socobo/credentials.yaml"
default_device: "deadbeef"
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Discord.Token != "Bot abc123" {
		t.Errorf("token = %q", cfg.Discord.Token)
	}
	if cfg.Creds.Kind != StoreFile {
		t.Errorf("creds kind = %q", cfg.Creds.Kind)
	}
	if len(cfg.Allowlist) != 2 {
		t.Errorf("allowlist = %v", cfg.Allowlist)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("discord:\n  token: t\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Creds.Kind != StoreFile {
		t.Errorf("default creds kind = %q, want file", cfg.Creds.Kind)
	}
	if cfg.Creds.File == "" {
		t.Error("default creds file path not applied")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("discord:\n  token: t\nwhitelist: []\n"))
	if err == nil {
		t.Error("unknown top-level field should be rejected")
	}
}

func TestValidate_MissingToken(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  log_level: info\n"))
	if err == nil || !strings.Contains(err.Error(), "discord.token") {
		t.Errorf("err = %v, want missing token error", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("discord:\n  token: t\nserver:\n  log_level: loud\n"))
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Errorf("err = %v, want log level error", err)
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	yaml := "discord:\n  token: t\ncredentials:\n  kind: postgres\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("err = %v, want postgres_dsn error", err)
	}
}

func TestValidate_SecretWithoutEndpoint(t *testing.T) {
	yaml := "discord:\n  token: t\nbackend:\n  secret: s\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "backend.secret") {
		t.Errorf("err = %v, want backend.secret error", err)
	}
}

func TestValidate_EmptyAllowlistRule(t *testing.T) {
	yaml := "discord:\n  token: t\nallowlist:\n  - '@a:vibb.me'\n  - '  '\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "allowlist[1]") {
		t.Errorf("err = %v, want empty rule error", err)
	}
}

func TestValidate_InvalidRegexRuleIsOnlyWarned(t *testing.T) {
	// A rule that does not compile is allowed through — it still works as
	// an exact match and must not break startup.
	yaml := "discord:\n  token: t\nallowlist:\n  - '[unclosed'\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Errorf("invalid regex rule should not fail validation: %v", err)
	}
}
