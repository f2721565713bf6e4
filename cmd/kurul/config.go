package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/KilimcininKorOglu/kurul/internal/config"
)

// configCmd handles the config command.
func configCmd(args []string) int {
	if len(args) == 0 {
		printConfigUsage(os.Stdout)
		return 0
	}

	// Check for help flags
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(os.Stdout)
		return 0
	}

	switch args[0] {
	case "validate":
		return configValidateCmd(args[1:])
	case "init":
		return configInitCmd(args[1:])
	case "show":
		return configShowCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Run 'kurul config help' for usage.")
		return 1
	}
}

// configValidateCmd handles the config validate subcommand.
func configValidateCmd(args []string) int {
	fs := flag.NewFlagSet("config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		fmt.Println("Validate configuration file")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  kurul config validate [options]")
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  -config string")
		fmt.Println("        Path to configuration file (required)")
		return 0
	}

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -config is required")
		return 1
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	errs := config.ValidateConfig(cfg)
	if len(errs) > 0 {
		fmt.Fprintln(os.Stderr, "Configuration errors:")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %s\n", e)
		}
		return 1
	}

	fmt.Println("Configuration is valid")
	return 0
}

// configInitCmd handles the config init subcommand.
func configInitCmd(args []string) int {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		fmt.Println("Generate default configuration")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  kurul config init")
		fmt.Println()
		fmt.Println("Outputs default configuration to stdout in YAML format.")
		return 0
	}

	cfg := config.DefaultConfig()
	fmt.Print(marshalConfigToYAML(cfg))

	return 0
}

// configShowCmd handles the config show subcommand.
func configShowCmd(args []string) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	format := fs.String("format", "yaml", "Output format (yaml, json)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		fmt.Println("Show effective configuration")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  kurul config show [options]")
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  -config string")
		fmt.Println("        Path to configuration file")
		fmt.Println("  -format string")
		fmt.Println("        Output format: yaml, json (default \"yaml\")")
		return 0
	}

	var cfg *config.Config
	var err error

	if *configFile != "" {
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	switch strings.ToLower(*format) {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to marshal config: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	default:
		fmt.Print(marshalConfigToYAML(cfg))
	}

	return 0
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Variables follow the pattern KURUL_<SECTION>_<KEY>.
func applyEnvOverrides(cfg *config.Config) {
	// Node overrides
	if v := os.Getenv("KURUL_NODE_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Node.ID = id
		}
	}
	if v := os.Getenv("KURUL_NODE_LISTEN"); v != "" {
		cfg.Node.Listen = v
	}
	if v := os.Getenv("KURUL_NODE_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}

	// API overrides
	if v := os.Getenv("KURUL_API_ADDRESS"); v != "" {
		cfg.API.Address = v
		cfg.API.Enabled = true
	}

	// Logging overrides
	if v := os.Getenv("KURUL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KURUL_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("KURUL_LOGGING_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
}

// marshalConfigToYAML converts a Config to YAML format.
// This is a simple implementation since we can't use external YAML libraries.
func marshalConfigToYAML(cfg *config.Config) string {
	var sb strings.Builder

	sb.WriteString("# Kurul Server Configuration\n")
	sb.WriteString("# Generated by: kurul config init\n\n")

	// Node section
	sb.WriteString("node:\n")
	sb.WriteString(fmt.Sprintf("  id: %d\n", cfg.Node.ID))
	sb.WriteString(fmt.Sprintf("  dataDir: %q\n", cfg.Node.DataDir))
	sb.WriteString(fmt.Sprintf("  listen: %q\n", cfg.Node.Listen))
	sb.WriteString("\n")

	// Cluster section
	sb.WriteString("cluster:\n")
	if len(cfg.Cluster.Members) == 0 {
		sb.WriteString("  members: []\n")
	} else {
		sb.WriteString("  members:\n")
		for _, member := range cfg.Cluster.Members {
			sb.WriteString(fmt.Sprintf("    - id: %d\n", member.ID))
			sb.WriteString(fmt.Sprintf("      address: %q\n", member.Address))
			if member.APIAddress != "" {
				sb.WriteString(fmt.Sprintf("      apiAddress: %q\n", member.APIAddress))
			}
		}
	}
	sb.WriteString("\n")

	// Raft section
	sb.WriteString("raft:\n")
	sb.WriteString(fmt.Sprintf("  electionTimeout: %s\n", formatDuration(cfg.Raft.ElectionTimeout)))
	sb.WriteString(fmt.Sprintf("  heartbeatInterval: %s\n", formatDuration(cfg.Raft.HeartbeatInterval)))
	sb.WriteString(fmt.Sprintf("  maxEntriesPerAppend: %d\n", cfg.Raft.MaxEntriesPerAppend))
	sb.WriteString(fmt.Sprintf("  snapshotThreshold: %d\n", cfg.Raft.SnapshotThreshold))
	sb.WriteString(fmt.Sprintf("  snapshotChunkSize: %q\n", cfg.Raft.SnapshotChunkSize))
	sb.WriteString("\n")

	// API section
	sb.WriteString("api:\n")
	sb.WriteString(fmt.Sprintf("  enabled: %t\n", cfg.API.Enabled))
	sb.WriteString(fmt.Sprintf("  address: %q\n", cfg.API.Address))
	sb.WriteString(fmt.Sprintf("  readTimeout: %s\n", formatDuration(cfg.API.ReadTimeout)))
	sb.WriteString(fmt.Sprintf("  writeTimeout: %s\n", formatDuration(cfg.API.WriteTimeout)))
	sb.WriteString("\n")

	// Logging section
	sb.WriteString("logging:\n")
	sb.WriteString(fmt.Sprintf("  level: %q\n", cfg.Logging.Level))
	sb.WriteString(fmt.Sprintf("  format: %q\n", cfg.Logging.Format))
	sb.WriteString(fmt.Sprintf("  output: %q\n", cfg.Logging.Output))

	return sb.String()
}

// formatDuration formats a duration for YAML output.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	return d.String()
}
