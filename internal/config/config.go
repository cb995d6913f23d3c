// Package config provides network presets and runtime configuration for airfi-gate.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// NetworkType identifies the EVM network the ticket contract is deployed on.
type NetworkType string

const (
	// NetworkSepolia represents the Sepolia public testnet.
	NetworkSepolia NetworkType = "sepolia"
	// NetworkDevnet represents a local hardhat/anvil node.
	NetworkDevnet NetworkType = "devnet"
)

// Firewall backends understood by the CLI.
const (
	BackendIPTables = "iptables"
	BackendOpenWrt  = "openwrt"
	BackendLog      = "log"
	BackendNone     = "none"
)

// DefaultTimeout bounds the dial and the contract call together.
const DefaultTimeout = 15 * time.Second

// FirewallConfig describes the allow-list rule chain on the gateway.
type FirewallConfig struct {
	Backend  string
	Table    string
	Chain    string
	Position int
	Target   string
}

// OpenWrtConfig holds the SSH settings for a remote OpenWrt gateway.
type OpenWrtConfig struct {
	Address    string
	Port       int
	Username   string
	Password   string
	PrivateKey string
	KnownHosts string
}

// Config holds everything a single verification run needs.
type Config struct {
	// Ledger configuration
	Network  NetworkType
	RPCURL   string
	Contract string
	Timeout  time.Duration

	// Fail the run when the allow-list mutation fails
	Strict bool

	Firewall FirewallConfig
	OpenWrt  OpenWrtConfig

	// Optional outputs
	AuditDB     string
	MetricsFile string

	Verbose bool
}

// DefaultSepoliaConfig returns the configuration for the deployed Sepolia ticket contract.
func DefaultSepoliaConfig() *Config {
	return &Config{
		Network:  NetworkSepolia,
		RPCURL:   "https://rpc.sepolia.org",
		Contract: "0xACC756f6AA661554e78aB346C7dCc888588155a2",
		Timeout:  DefaultTimeout,
		Firewall: defaultFirewall(),
		OpenWrt:  defaultOpenWrt(),
	}
}

// DefaultDevnetConfig returns the configuration for a local development node.
func DefaultDevnetConfig() *Config {
	return &Config{
		Network:  NetworkDevnet,
		RPCURL:   "http://127.0.0.1:8545",
		Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		Timeout:  5 * time.Second,
		Firewall: defaultFirewall(),
		OpenWrt:  defaultOpenWrt(),
	}
}

// Preset returns the default configuration for a named network.
func Preset(network NetworkType) (*Config, error) {
	switch NetworkType(strings.ToLower(string(network))) {
	case NetworkSepolia, "":
		return DefaultSepoliaConfig(), nil
	case NetworkDevnet:
		return DefaultDevnetConfig(), nil
	default:
		return nil, ErrInvalidConfig(fmt.Sprintf("unknown network %q", network))
	}
}

func defaultFirewall() FirewallConfig {
	return FirewallConfig{
		Backend:  BackendIPTables,
		Table:    "filter",
		Chain:    "internet_access",
		Position: 1,
		Target:   "RETURN",
	}
}

func defaultOpenWrt() OpenWrtConfig {
	return OpenWrtConfig{
		Port:     22,
		Username: "root",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return ErrInvalidConfig("RPC URL is required")
	}
	u, err := url.Parse(c.RPCURL)
	if err != nil || u.Scheme == "" {
		return ErrInvalidConfig(fmt.Sprintf("RPC URL %q is not a valid URL", c.RPCURL))
	}
	if c.Contract == "" {
		return ErrInvalidConfig("contract address is required")
	}
	if c.Timeout < 0 {
		return ErrInvalidConfig("timeout must not be negative")
	}

	switch c.Firewall.Backend {
	case BackendIPTables, BackendOpenWrt, BackendLog, BackendNone:
	default:
		return ErrInvalidConfig(fmt.Sprintf("unknown firewall backend %q", c.Firewall.Backend))
	}
	if c.Firewall.Chain == "" {
		return ErrInvalidConfig("firewall chain is required")
	}
	if c.Firewall.Position < 1 {
		return ErrInvalidConfig("firewall rule position must be at least 1")
	}
	if c.Firewall.Target == "" {
		return ErrInvalidConfig("firewall target is required")
	}

	if c.Firewall.Backend == BackendOpenWrt {
		if c.OpenWrt.Address == "" {
			return ErrInvalidConfig("openwrt address is required for the openwrt backend")
		}
		if c.OpenWrt.Password == "" && c.OpenWrt.PrivateKey == "" {
			return ErrInvalidConfig("openwrt password or private key is required")
		}
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "airfi-gate config error: " + e.Message
}

// ErrInvalidConfig creates a new configuration error.
func ErrInvalidConfig(message string) error {
	return &ConfigError{Message: message}
}
