package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `kurul - Replicated key-value store

Usage:
  kurul <command> [options]

Server commands:
  serve       Start a cluster node
  config      Configuration management

Client commands:
  get         Read a key
  set         Write a key
  del         Delete a key
  status      Show cluster status
  member      Cluster membership management
  snapshot    Trigger log compaction

Other commands:
  version     Show version information

Use "kurul <command> -h" for more information about a command.
`)
}

// printServeUsage prints the serve command usage.
func printServeUsage(w io.Writer) {
	fmt.Fprint(w, `Start a cluster node

Usage:
  kurul serve [options]

Options:
  -config string
        Path to configuration file
  -id uint
        Node ID (overrides config)
  -listen string
        Consensus listen address (overrides config, default ":4701")
  -data-dir string
        Data directory path (overrides config, default "/var/lib/kurul")
  -api-address string
        HTTP API listen address (overrides config, default ":8701")
  -log-level string
        Log level: debug, info, warn, error (overrides config)
  -h, -help
        Show this help message

Environment Variables:
  KURUL_NODE_ID           Override node ID
  KURUL_NODE_LISTEN       Override consensus listen address
  KURUL_NODE_DATA_DIR     Override data directory path
  KURUL_API_ADDRESS       Override HTTP API listen address
  KURUL_LOGGING_LEVEL     Override log level
`)
}

// printGetUsage prints the get command usage.
func printGetUsage(w io.Writer) {
	fmt.Fprint(w, `Read a key

Usage:
  kurul get [options] <key>

Options:
  -addr string
        API address of a cluster node (default "127.0.0.1:8701")
  -h, -help
        Show this help message
`)
}

// printSetUsage prints the set command usage.
func printSetUsage(w io.Writer) {
	fmt.Fprint(w, `Write a key

Usage:
  kurul set [options] <key> <value>

Options:
  -addr string
        API address of a cluster node (default "127.0.0.1:8701")
  -h, -help
        Show this help message

Writes go through the cluster leader. When the addressed node is a
follower the command retries once against the reported leader.
`)
}

// printDelUsage prints the del command usage.
func printDelUsage(w io.Writer) {
	fmt.Fprint(w, `Delete a key

Usage:
  kurul del [options] <key>

Options:
  -addr string
        API address of a cluster node (default "127.0.0.1:8701")
  -h, -help
        Show this help message
`)
}

// printStatusUsage prints the status command usage.
func printStatusUsage(w io.Writer) {
	fmt.Fprint(w, `Show cluster status

Usage:
  kurul status [options]

Options:
  -addr string
        API address of a cluster node (default "127.0.0.1:8701")
  -h, -help
        Show this help message
`)
}

// printMemberUsage prints the member command usage.
func printMemberUsage(w io.Writer) {
	fmt.Fprint(w, `Cluster membership management

Usage:
  kurul member <subcommand> [options]

Subcommands:
  add         Add a member to the cluster
  remove      Remove a member from the cluster

Use "kurul member <subcommand> -h" for more information.
`)
}

// printMemberAddUsage prints the member add subcommand usage.
func printMemberAddUsage(w io.Writer) {
	fmt.Fprint(w, `Add a member to the cluster

Usage:
  kurul member add [options]

Options:
  -id uint
        New member's node ID (required)
  -address string
        New member's consensus address (required)
  -addr string
        API address of a cluster node (default "127.0.0.1:8701")
  -h, -help
        Show this help message
`)
}

// printMemberRemoveUsage prints the member remove subcommand usage.
func printMemberRemoveUsage(w io.Writer) {
	fmt.Fprint(w, `Remove a member from the cluster

Usage:
  kurul member remove [options]

Options:
  -id uint
        Member's node ID (required)
  -addr string
        API address of a cluster node (default "127.0.0.1:8701")
  -h, -help
        Show this help message
`)
}

// printSnapshotUsage prints the snapshot command usage.
func printSnapshotUsage(w io.Writer) {
	fmt.Fprint(w, `Trigger log compaction

Usage:
  kurul snapshot [options]

Options:
  -addr string
        API address of a cluster node (default "127.0.0.1:8701")
  -h, -help
        Show this help message
`)
}

// printConfigUsage prints the config command usage.
func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  kurul config <subcommand> [options]

Subcommands:
  validate    Validate configuration file
  init        Generate default configuration
  show        Show effective configuration

Use "kurul config <subcommand> -h" for more information.
`)
}

// printVersionUsage prints the version command usage.
func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  kurul version [options]

Options:
  -short
        Show only version number
  -h, -help
        Show this help message
`)
}
