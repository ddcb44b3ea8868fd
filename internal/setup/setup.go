// Package setup registers the PharmaGuard MCP server in a desktop MCP client configuration file
// (the JSON document with an "mcpServers" object that MCP clients read at startup).
package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// DefaultServerName is the key written under mcpServers.
const DefaultServerName = "pharmaguard"

// DefaultBinaryName is the MCP server executable looked up when no binary is given.
const DefaultBinaryName = "pharmaguard-mcp"

// DataDirEnv is passed to the server so its SQLite audit trail lands in the chosen directory.
const DataDirEnv = "PHARMAGUARD_DATA_DIR"

const mcpServersKey = "mcpServers"

// ServerEntry represents a single MCP server configuration.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ClientConfig is an MCP client configuration file. Keys other than mcpServers are kept verbatim.
type ClientConfig struct {
	MCPServers map[string]ServerEntry

	other map[string]json.RawMessage
}

// RegisterOptions contains options for the registration.
type RegisterOptions struct {
	ClientConfigPath string
	ServerName       string
	BinaryPath       string
	DataDir          string
	ConfigFile       string
}

// LoadClientConfig loads an existing client configuration. A missing file yields an empty config.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{
		MCPServers: make(map[string]ServerEntry),
		other:      make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.other); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.other[mcpServersKey]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", mcpServersKey, err)
		}
		if cfg.MCPServers == nil {
			cfg.MCPServers = make(map[string]ServerEntry)
		}
		delete(cfg.other, mcpServersKey)
	}
	return cfg, nil
}

// SaveClientConfig writes the configuration through a temp file and rename.
func SaveClientConfig(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	doc := make(map[string]any, len(cfg.other)+1)
	for k, v := range cfg.other {
		doc[k] = v
	}
	doc[mcpServersKey] = cfg.MCPServers

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".mcp-config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// Register adds or updates the server entry and returns what was written.
func Register(opts RegisterOptions) (*ServerEntry, error) {
	if opts.ClientConfigPath == "" {
		return nil, errors.New("client config path is required")
	}
	name := opts.ServerName
	if name == "" {
		name = DefaultServerName
	}

	cfg, err := LoadClientConfig(opts.ClientConfigPath)
	if err != nil {
		return nil, err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		binaryPath, err = FindBinary(DefaultBinaryName)
		if err != nil {
			return nil, fmt.Errorf("could not find server binary: %w", err)
		}
	}
	if abs, err := filepath.Abs(binaryPath); err == nil {
		binaryPath = abs
	}

	entry := ServerEntry{Command: binaryPath}
	if opts.ConfigFile != "" {
		configFile := opts.ConfigFile
		if abs, err := filepath.Abs(configFile); err == nil {
			configFile = abs
		}
		entry.Args = []string{"--config", configFile}
	}
	if opts.DataDir != "" {
		entry.Env = map[string]string{DataDirEnv: opts.DataDir}
	}

	cfg.MCPServers[name] = entry
	if err := SaveClientConfig(opts.ClientConfigPath, cfg); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Unregister removes the server entry. It reports whether an entry was present.
func Unregister(clientConfigPath, name string) (bool, error) {
	if clientConfigPath == "" {
		return false, errors.New("client config path is required")
	}
	if name == "" {
		name = DefaultServerName
	}
	cfg, err := LoadClientConfig(clientConfigPath)
	if err != nil {
		return false, err
	}
	if _, ok := cfg.MCPServers[name]; !ok {
		return false, nil
	}
	delete(cfg.MCPServers, name)
	return true, SaveClientConfig(clientConfigPath, cfg)
}

// FindBinary looks for the server binary on PATH and in common install locations.
func FindBinary(binaryName string) (string, error) {
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	locations := []string{
		"./" + binaryName,
		"./bin/" + binaryName,
		"/usr/local/bin/" + binaryName,
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".local", "bin", binaryName))
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}
	return "", fmt.Errorf("binary '%s' not found in common locations", binaryName)
}

// Status represents the registration status of one server entry.
type Status struct {
	ClientConfigPath string   `json:"client_config_path"`
	Registered       bool     `json:"registered"`
	ServerName       string   `json:"server_name"`
	Command          string   `json:"command,omitempty"`
	DataDir          string   `json:"data_dir,omitempty"`
	OtherServers     []string `json:"other_servers"`
	Issues           []string `json:"issues"`
}

// GetStatus checks the registration and whether the registered binary is usable.
func GetStatus(clientConfigPath, name string) (*Status, error) {
	if clientConfigPath == "" {
		return nil, errors.New("client config path is required")
	}
	if name == "" {
		name = DefaultServerName
	}
	cfg, err := LoadClientConfig(clientConfigPath)
	if err != nil {
		return nil, err
	}

	status := &Status{
		ClientConfigPath: clientConfigPath,
		ServerName:       name,
		OtherServers:     []string{},
		Issues:           []string{},
	}
	for other := range cfg.MCPServers {
		if other != name {
			status.OtherServers = append(status.OtherServers, other)
		}
	}
	sort.Strings(status.OtherServers)

	entry, ok := cfg.MCPServers[name]
	if !ok {
		status.Issues = append(status.Issues, fmt.Sprintf("%s is not registered", name))
		return status, nil
	}
	status.Registered = true
	status.Command = entry.Command
	status.DataDir = entry.Env[DataDirEnv]

	info, err := os.Stat(entry.Command)
	switch {
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found: %s", entry.Command))
	case info.Mode()&0111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("Server binary is not executable: %s", entry.Command))
	}
	return status, nil
}
