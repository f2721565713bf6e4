package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KilimcininKorOglu/kurul/internal/config"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestConfigCmd_NoArgs(t *testing.T) {
	exitCode := configCmd([]string{})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for config (shows help), got %d", exitCode)
	}
}

func TestConfigCmd_Help(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"help subcommand", []string{"help"}},
		{"short flag", []string{"-h"}},
		{"long flag", []string{"--help"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exitCode := configCmd(tt.args)
			if exitCode != 0 {
				t.Errorf("expected exit code 0 for config help, got %d", exitCode)
			}
		})
	}
}

func TestConfigCmd_UnknownSubcommand(t *testing.T) {
	exitCode := configCmd([]string{"unknown"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for unknown config subcommand, got %d", exitCode)
	}
}

func TestConfigValidateCmd_NoConfig(t *testing.T) {
	exitCode := configValidateCmd([]string{})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for config validate without config, got %d", exitCode)
	}
}

func TestConfigValidateCmd_FileNotFound(t *testing.T) {
	exitCode := configValidateCmd([]string{"-config", "/nonexistent/config.yaml"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for nonexistent config file, got %d", exitCode)
	}
}

func TestConfigValidateCmd_ValidConfig(t *testing.T) {
	configPath := writeTestConfig(t, `
node:
  id: 1
  dataDir: "/var/lib/kurul"
  listen: ":4701"

cluster:
  members:
    - id: 1
      address: "127.0.0.1:4701"
    - id: 2
      address: "127.0.0.2:4701"
    - id: 3
      address: "127.0.0.3:4701"

raft:
  electionTimeout: 300ms
  heartbeatInterval: 100ms
  maxEntriesPerAppend: 64
  snapshotThreshold: 10000
  snapshotChunkSize: "1MB"

api:
  enabled: true
  address: ":8701"

logging:
  level: "info"
  format: "json"
  output: "stdout"
`)

	exitCode := configValidateCmd([]string{"-config", configPath})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for valid config, got %d", exitCode)
	}
}

func TestConfigValidateCmd_MissingNodeID(t *testing.T) {
	// A config without a node ID cannot join or form a cluster.
	configPath := writeTestConfig(t, `
node:
  dataDir: "/var/lib/kurul"
`)

	exitCode := configValidateCmd([]string{"-config", configPath})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for missing node ID, got %d", exitCode)
	}
}

func TestConfigValidateCmd_RelativeDataDir(t *testing.T) {
	configPath := writeTestConfig(t, `
node:
  id: 1
  dataDir: "relative/path"
`)

	exitCode := configValidateCmd([]string{"-config", configPath})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for relative data dir, got %d", exitCode)
	}
}

func TestConfigValidateCmd_InvalidLogLevel(t *testing.T) {
	configPath := writeTestConfig(t, `
node:
  id: 1

logging:
  level: "invalid"
`)

	exitCode := configValidateCmd([]string{"-config", configPath})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for invalid log level, got %d", exitCode)
	}
}

func TestConfigValidateCmd_ElectionHeartbeatRatio(t *testing.T) {
	configPath := writeTestConfig(t, `
node:
  id: 1

raft:
  electionTimeout: 150ms
  heartbeatInterval: 100ms
`)

	exitCode := configValidateCmd([]string{"-config", configPath})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for election timeout below 3x heartbeat, got %d", exitCode)
	}
}

func TestConfigValidateCmd_SelfNotInMemberList(t *testing.T) {
	configPath := writeTestConfig(t, `
node:
  id: 5

cluster:
  members:
    - id: 1
      address: "127.0.0.1:4701"
`)

	exitCode := configValidateCmd([]string{"-config", configPath})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 when node ID is not in the member list, got %d", exitCode)
	}
}

func TestConfigValidateCmd_EmptyMemberList(t *testing.T) {
	// A node with no configured members waits to be added to a cluster.
	configPath := writeTestConfig(t, `
node:
  id: 7
`)

	exitCode := configValidateCmd([]string{"-config", configPath})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for empty member list, got %d", exitCode)
	}
}

func TestConfigValidateCmd_MalformedYAML(t *testing.T) {
	configPath := writeTestConfig(t, `
node
  id: 1
`)

	exitCode := configValidateCmd([]string{"-config", configPath})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for malformed YAML, got %d", exitCode)
	}
}

func TestConfigInitCmd(t *testing.T) {
	exitCode := configInitCmd([]string{})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for config init, got %d", exitCode)
	}
}

func TestConfigShowCmd_Defaults(t *testing.T) {
	exitCode := configShowCmd([]string{})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for config show defaults, got %d", exitCode)
	}
}

func TestConfigShowCmd_WithConfig(t *testing.T) {
	configPath := writeTestConfig(t, `
node:
  id: 3
  listen: ":5701"

logging:
  level: "debug"
`)

	exitCode := configShowCmd([]string{"-config", configPath})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for config show with config, got %d", exitCode)
	}
}

func TestConfigShowCmd_FileNotFound(t *testing.T) {
	exitCode := configShowCmd([]string{"-config", "/nonexistent/config.yaml"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for nonexistent config file, got %d", exitCode)
	}
}

func TestConfigShowCmd_Formats(t *testing.T) {
	tests := []struct {
		name   string
		format string
	}{
		{"yaml", "yaml"},
		{"json", "json"},
		{"uppercase JSON", "JSON"},
		{"mixed case Yaml", "Yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exitCode := configShowCmd([]string{"-format", tt.format})
			if exitCode != 0 {
				t.Errorf("expected exit code 0 for format %s, got %d", tt.format, exitCode)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	os.Setenv("KURUL_NODE_ID", "9")
	os.Setenv("KURUL_NODE_LISTEN", ":6701")
	os.Setenv("KURUL_NODE_DATA_DIR", "/custom/path")
	os.Setenv("KURUL_API_ADDRESS", ":9701")
	os.Setenv("KURUL_LOGGING_LEVEL", "debug")
	defer func() {
		os.Unsetenv("KURUL_NODE_ID")
		os.Unsetenv("KURUL_NODE_LISTEN")
		os.Unsetenv("KURUL_NODE_DATA_DIR")
		os.Unsetenv("KURUL_API_ADDRESS")
		os.Unsetenv("KURUL_LOGGING_LEVEL")
	}()

	cfg := config.DefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Node.ID != 9 {
		t.Errorf("expected node ID 9, got %d", cfg.Node.ID)
	}
	if cfg.Node.Listen != ":6701" {
		t.Errorf("expected listen :6701, got %s", cfg.Node.Listen)
	}
	if cfg.Node.DataDir != "/custom/path" {
		t.Errorf("expected data dir /custom/path, got %s", cfg.Node.DataDir)
	}
	if cfg.API.Address != ":9701" {
		t.Errorf("expected API address :9701, got %s", cfg.API.Address)
	}
	if !cfg.API.Enabled {
		t.Error("expected KURUL_API_ADDRESS to enable the API")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestApplyEnvOverrides_BadNodeID(t *testing.T) {
	os.Setenv("KURUL_NODE_ID", "not-a-number")
	defer os.Unsetenv("KURUL_NODE_ID")

	cfg := config.DefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Node.ID != 0 {
		t.Errorf("expected unparseable node ID to be ignored, got %d", cfg.Node.ID)
	}
}

func TestMarshalConfigToYAML(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Node.ID = 1
	cfg.Cluster.Members = []config.MemberConfig{
		{ID: 1, Address: "127.0.0.1:4701", APIAddress: "127.0.0.1:8701"},
		{ID: 2, Address: "127.0.0.2:4701"},
	}

	out := marshalConfigToYAML(cfg)

	expectedStrings := []string{
		"node:",
		"id: 1",
		"cluster:",
		"- id: 1",
		`address: "127.0.0.1:4701"`,
		`apiAddress: "127.0.0.1:8701"`,
		"raft:",
		"electionTimeout: 300ms",
		"heartbeatInterval: 100ms",
		"api:",
		"logging:",
	}

	for _, expected := range expectedStrings {
		if !strings.Contains(out, expected) {
			t.Errorf("expected YAML output to contain %q", expected)
		}
	}
}

func TestMarshalConfigToYAML_RoundTrip(t *testing.T) {
	// Output of config init must parse back to the same settings.
	cfg := config.DefaultConfig()
	cfg.Node.ID = 4
	cfg.Cluster.Members = []config.MemberConfig{
		{ID: 4, Address: "127.0.0.1:4701"},
	}

	configPath := writeTestConfig(t, marshalConfigToYAML(cfg))

	parsed, err := config.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to reload generated config: %v", err)
	}

	if parsed.Node.ID != 4 {
		t.Errorf("expected node ID 4, got %d", parsed.Node.ID)
	}
	if parsed.Node.Listen != cfg.Node.Listen {
		t.Errorf("expected listen %s, got %s", cfg.Node.Listen, parsed.Node.Listen)
	}
	if parsed.Raft.ElectionTimeout != cfg.Raft.ElectionTimeout {
		t.Errorf("expected election timeout %s, got %s", cfg.Raft.ElectionTimeout, parsed.Raft.ElectionTimeout)
	}
	if len(parsed.Cluster.Members) != 1 || parsed.Cluster.Members[0].Address != "127.0.0.1:4701" {
		t.Errorf("expected one member with address 127.0.0.1:4701, got %+v", parsed.Cluster.Members)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected string
	}{
		{"zero", 0, "0s"},
		{"milliseconds", 300 * time.Millisecond, "300ms"},
		{"seconds", 30 * time.Second, "30s"},
		{"minutes", 5 * time.Minute, "5m0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.input)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}
