// Package mcp connects to Model Context Protocol servers and exposes their
// tools through the tool contract.
package mcp

import (
	"encoding/json"
	"time"
)

// Config defines MCP server configuration.
type Config struct {
	Enabled     bool              `json:"enabled"`
	Type        TransportType     `json:"type"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}

// DefaultTimeout bounds connection setup and tool listing.
const DefaultTimeout = 5 * time.Second

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Timeout) * time.Millisecond
}

// TransportType represents the type of MCP transport.
type TransportType string

const (
	TransportTypeRemote TransportType = "remote"
	TransportTypeLocal  TransportType = "local"
	TransportTypeStdio  TransportType = "stdio"
)

// Tool describes a tool offered by a connected server. Server and Name are
// the unprefixed names used for permission checks.
type Tool struct {
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// QualifiedName is the registry name, "<server>_<tool>".
func (t Tool) QualifiedName() string {
	return sanitizeName(t.Server) + "_" + sanitizeName(t.Name)
}

// Status represents the connection status.
type Status string

const (
	StatusConnected  Status = "connected"
	StatusDisabled   Status = "disabled"
	StatusFailed     Status = "failed"
	StatusConnecting Status = "connecting"
)

// ServerStatus represents the status of an MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	ToolCount int    `json:"toolCount"`
	Error     string `json:"error,omitempty"`
}

// CallResult is the flattened result of a tool call.
type CallResult struct {
	Text    string
	IsError bool
}

// sanitizeName replaces non-alphanumeric chars with underscore.
func sanitizeName(name string) string {
	out := []rune(name)
	for i, r := range out {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			out[i] = '_'
		}
	}
	return string(out)
}
