// Package config provides configuration parsing and validation for the kurul server.
package config

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parser errors.
var (
	ErrInvalidYAML     = errors.New("invalid YAML format")
	ErrInvalidDuration = errors.New("invalid duration format")
	ErrInvalidNumber   = errors.New("invalid number format")
	ErrFileNotFound    = errors.New("configuration file not found")
)

// LoadConfig loads configuration from a file path.
// It reads the file, substitutes environment variables, parses YAML,
// and applies defaults for missing values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig parses configuration from YAML data.
// It substitutes environment variables and applies defaults for missing values.
func ParseConfig(data []byte) (*Config, error) {
	// Substitute environment variables
	data = substituteEnvVars(data)

	// Start with defaults
	config := DefaultConfig()

	// Parse YAML and merge with defaults
	if err := parseYAML(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	// Pattern matches ${VAR} or ${VAR:-default}
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllFunc(data, func(match []byte) []byte {
		// Extract content between ${ and }
		content := string(match[2 : len(match)-1])

		// Check for default value syntax: VAR:-default
		if idx := strings.Index(content, ":-"); idx != -1 {
			varName := content[:idx]
			defaultVal := content[idx+2:]
			if val := os.Getenv(varName); val != "" {
				return []byte(val)
			}
			return []byte(defaultVal)
		}

		// Simple variable substitution
		return []byte(os.Getenv(content))
	})
}

// yamlNode represents a parsed YAML node.
type yamlNode struct {
	key          string
	value        string
	indent       int
	children     []*yamlNode
	isList       bool
	isListObject bool // true when list item contains key: value (- key: value)
	listItems    []string
}

// parseYAML parses YAML data into the config struct.
func parseYAML(data []byte, config *Config) error {
	lines := strings.Split(string(data), "\n")
	root := &yamlNode{indent: -1}

	if err := buildTree(lines, root); err != nil {
		return err
	}

	return applyConfig(root, config)
}

// buildTree builds a tree structure from YAML lines.
func buildTree(lines []string, root *yamlNode) error {
	stack := []*yamlNode{root}

	for _, line := range lines {
		// Skip empty lines and comments
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		// Calculate indentation
		indent := countIndent(line)

		// Parse key-value or list item
		node, err := parseLine(trimmed, indent)
		if err != nil {
			return err
		}

		// Find parent based on indentation
		for len(stack) > 1 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}

		parent := stack[len(stack)-1]

		// Handle list items
		if node.isList {
			if node.isListObject {
				// List item that starts a new object (- key: value)
				// Create a container node for this list item
				listItemNode := &yamlNode{
					indent:   indent,
					children: []*yamlNode{},
				}
				// Add the first key-value as child
				firstChild := &yamlNode{
					key:    node.key,
					value:  node.value,
					indent: indent + 2,
				}
				listItemNode.children = append(listItemNode.children, firstChild)
				parent.children = append(parent.children, listItemNode)
				stack = append(stack, listItemNode)
				continue
			}

			// Simple list item (- value)
			if parent.listItems == nil {
				parent.listItems = []string{}
			}
			parent.listItems = append(parent.listItems, node.value)
			continue
		}

		parent.children = append(parent.children, node)
		stack = append(stack, node)
	}

	return nil
}

// countIndent counts the number of leading spaces.
func countIndent(line string) int {
	count := 0
	for _, ch := range line {
		if ch == ' ' {
			count++
		} else if ch == '\t' {
			count += 2 // Treat tab as 2 spaces
		} else {
			break
		}
	}
	return count
}

// parseLine parses a single YAML line.
func parseLine(line string, indent int) (*yamlNode, error) {
	// Check for list item
	if strings.HasPrefix(line, "- ") {
		content := strings.TrimPrefix(line, "- ")

		// Check if list item contains key: value (nested object like "- id: 1")
		if colonIdx := strings.Index(content, ":"); colonIdx != -1 {
			key := strings.TrimSpace(content[:colonIdx])
			value := ""
			if colonIdx+1 < len(content) {
				value = strings.TrimSpace(content[colonIdx+1:])
			}
			value = unquote(value)

			return &yamlNode{
				key:          key,
				value:        value,
				indent:       indent,
				isList:       true,
				isListObject: true,
			}, nil
		}

		// Simple list item (- value)
		return &yamlNode{
			value:  strings.TrimSpace(content),
			indent: indent,
			isList: true,
		}, nil
	}

	// Parse key: value
	colonIdx := strings.Index(line, ":")
	if colonIdx == -1 {
		return nil, ErrInvalidYAML
	}

	key := strings.TrimSpace(line[:colonIdx])
	value := ""
	if colonIdx+1 < len(line) {
		value = strings.TrimSpace(line[colonIdx+1:])
	}

	// Remove quotes from value
	value = unquote(value)

	return &yamlNode{
		key:    key,
		value:  value,
		indent: indent,
	}, nil
}

// unquote removes surrounding quotes from a string.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// applyConfig applies parsed YAML nodes to the config struct.
func applyConfig(root *yamlNode, config *Config) error {
	for _, node := range root.children {
		switch node.key {
		case "node":
			if err := applyNodeConfig(node, &config.Node); err != nil {
				return err
			}
		case "cluster":
			if err := applyClusterConfig(node, &config.Cluster); err != nil {
				return err
			}
		case "raft":
			if err := applyRaftConfig(node, &config.Raft); err != nil {
				return err
			}
		case "api":
			if err := applyAPIConfig(node, &config.API); err != nil {
				return err
			}
		case "logging":
			if err := applyLogConfig(node, &config.Logging); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyNodeConfig applies node identity configuration.
func applyNodeConfig(node *yamlNode, config *NodeConfig) error {
	for _, child := range node.children {
		switch child.key {
		case "id":
			if child.value != "" {
				val, err := strconv.ParseUint(child.value, 10, 64)
				if err != nil {
					return ErrInvalidNumber
				}
				config.ID = val
			}
		case "dataDir":
			if child.value != "" {
				config.DataDir = child.value
			}
		case "listen":
			if child.value != "" {
				config.Listen = child.value
			}
		}
	}
	return nil
}

// applyClusterConfig applies cluster membership configuration.
func applyClusterConfig(node *yamlNode, config *ClusterConfig) error {
	for _, child := range node.children {
		switch child.key {
		case "members":
			members, err := parseMembers(child)
			if err != nil {
				return err
			}
			config.Members = members
		}
	}
	return nil
}

// parseMembers parses cluster member configurations.
func parseMembers(node *yamlNode) ([]MemberConfig, error) {
	var members []MemberConfig
	for _, child := range node.children {
		member := MemberConfig{}
		for _, memberChild := range child.children {
			switch memberChild.key {
			case "id":
				val, err := strconv.ParseUint(memberChild.value, 10, 64)
				if err != nil {
					return nil, ErrInvalidNumber
				}
				member.ID = val
			case "address":
				member.Address = memberChild.value
			case "apiAddress":
				member.APIAddress = memberChild.value
			}
		}
		if member.ID > 0 || member.Address != "" {
			members = append(members, member)
		}
	}
	return members, nil
}

// applyRaftConfig applies consensus tuning configuration.
func applyRaftConfig(node *yamlNode, config *RaftConfig) error {
	for _, child := range node.children {
		switch child.key {
		case "electionTimeout":
			if child.value != "" {
				dur, err := parseDuration(child.value)
				if err != nil {
					return err
				}
				config.ElectionTimeout = dur
			}
		case "heartbeatInterval":
			if child.value != "" {
				dur, err := parseDuration(child.value)
				if err != nil {
					return err
				}
				config.HeartbeatInterval = dur
			}
		case "maxEntriesPerAppend":
			if child.value != "" {
				val, err := strconv.Atoi(child.value)
				if err != nil {
					return ErrInvalidNumber
				}
				config.MaxEntriesPerAppend = val
			}
		case "snapshotThreshold":
			if child.value != "" {
				val, err := strconv.ParseUint(child.value, 10, 64)
				if err != nil {
					return ErrInvalidNumber
				}
				config.SnapshotThreshold = val
			}
		case "snapshotChunkSize":
			if child.value != "" {
				config.SnapshotChunkSize = child.value
			}
		}
	}
	return nil
}

// applyAPIConfig applies HTTP API configuration.
func applyAPIConfig(node *yamlNode, config *APIConfig) error {
	for _, child := range node.children {
		switch child.key {
		case "enabled":
			config.Enabled = parseBool(child.value)
		case "address":
			if child.value != "" {
				config.Address = child.value
			}
		case "readTimeout":
			if child.value != "" {
				dur, err := parseDuration(child.value)
				if err != nil {
					return err
				}
				config.ReadTimeout = dur
			}
		case "writeTimeout":
			if child.value != "" {
				dur, err := parseDuration(child.value)
				if err != nil {
					return err
				}
				config.WriteTimeout = dur
			}
		}
	}
	return nil
}

// applyLogConfig applies logging configuration.
func applyLogConfig(node *yamlNode, config *LogConfig) error {
	for _, child := range node.children {
		switch child.key {
		case "level":
			if child.value != "" {
				config.Level = child.value
			}
		case "format":
			if child.value != "" {
				config.Format = child.value
			}
		case "output":
			if child.value != "" {
				config.Output = child.value
			}
		}
	}
	return nil
}

// parseDuration parses a duration string supporting formats like "150ms", "30s", "5m".
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, ErrInvalidDuration
	}
	return dur, nil
}

// parseBool parses a boolean string.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "yes" || s == "1" || s == "on"
}
