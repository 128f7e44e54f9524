// MCP server configuration file support.
//
// Uses the common mcpServers layout, plus an optional "tools" map that
// binds an MCP tool name to a router tool type:
//
//	{
//	  "mcpServers": {
//	    "docs": {
//	      "command": "npx",
//	      "args": ["-y", "@acme/docs-mcp"],
//	      "tools": {"search_documents": "rag_search"}
//	    }
//	  }
//	}
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Config represents the MCP configuration file format.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers" mapstructure:"mcpServers"`
}

// ServerConfig represents a single MCP server configuration.
type ServerConfig struct {
	Command string            `json:"command" mapstructure:"command"`
	Args    []string          `json:"args" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`
	// Tools maps MCP tool names to router tool types. Unlisted tools are
	// registered under their own name.
	Tools map[string]string `json:"tools,omitempty" mapstructure:"tools"`
}

// LoadConfig loads MCP configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ServerNames returns the configured server names in sorted order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
