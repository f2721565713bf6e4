// Package config provides configuration parsing and validation for the kurul server.
//
// # Overview
//
// The config package handles loading, parsing, and validating server configuration
// from YAML files and environment variables. It supports:
//
//   - YAML configuration files
//   - Environment variable substitution (${VAR} and ${VAR:-default})
//   - Default values for all settings
//   - Configuration validation
//
// # Configuration Structure
//
// The main Config struct contains all server settings:
//
//	type Config struct {
//	    Node    NodeConfig    // Node identity, data directory, listen address
//	    Cluster ClusterConfig // Bootstrap cluster membership
//	    Raft    RaftConfig    // Consensus protocol tuning
//	    API     APIConfig     // HTTP client/admin API
//	    Logging LogConfig     // Logging settings
//	}
//
// # Loading Configuration
//
// Load configuration from a YAML file:
//
//	cfg, err := config.LoadConfig("/etc/kurul/kurul.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Or use defaults:
//
//	cfg := config.DefaultConfig()
//
// Validate before use:
//
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    for _, err := range errs {
//	        fmt.Fprintln(os.Stderr, err)
//	    }
//	}
//
// # Example Configuration
//
// A typical configuration file:
//
//	node:
//	  id: 1
//	  dataDir: "/var/lib/kurul"
//	  listen: "10.0.0.1:4701"
//
//	cluster:
//	  members:
//	    - id: 1
//	      address: "10.0.0.1:4701"
//	    - id: 2
//	      address: "10.0.0.2:4701"
//	    - id: 3
//	      address: "10.0.0.3:4701"
//
//	raft:
//	  electionTimeout: 300ms
//	  heartbeatInterval: 100ms
//	  maxEntriesPerAppend: 64
//	  snapshotThreshold: 10000
//	  snapshotChunkSize: "1MB"
//
//	api:
//	  enabled: true
//	  address: ":8701"
//	  readTimeout: 30s
//	  writeTimeout: 30s
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "/var/log/kurul/kurul.log"
//
// The bootstrap member list seeds a fresh node's cluster configuration.
// Once the cluster is running, membership changes go through the joint
// consensus protocol and are recorded in the replicated log; the log and
// snapshots then take precedence over the file.
//
// # Environment Variables
//
// Any value in the file may reference environment variables:
//
//	node:
//	  dataDir: "${KURUL_DATA_DIR:-/var/lib/kurul}"
package config
