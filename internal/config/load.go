package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Configuration keys shared by flags, environment variables and config files.
const (
	KeyConfigFile        = "config"
	KeyNetwork           = "network"
	KeyRPC               = "rpc"
	KeyContract          = "contract"
	KeyTimeout           = "timeout"
	KeyStrict            = "strict"
	KeyFirewallBackend   = "firewall.backend"
	KeyFirewallTable     = "firewall.table"
	KeyFirewallChain     = "firewall.chain"
	KeyFirewallPosition  = "firewall.position"
	KeyFirewallTarget    = "firewall.target"
	KeyOpenWrtAddress    = "openwrt.address"
	KeyOpenWrtPort       = "openwrt.port"
	KeyOpenWrtUsername   = "openwrt.username"
	KeyOpenWrtPassword   = "openwrt.password"
	KeyOpenWrtPrivateKey = "openwrt.private_key"
	KeyOpenWrtKnownHosts = "openwrt.known_hosts"
	KeyAuditDB           = "audit.db"
	KeyMetricsFile       = "metrics.file"
	KeyVerbose           = "verbose"
)

// EnvPrefix is prepended to every environment variable, e.g. AIRFI_RPC or AIRFI_FIREWALL_CHAIN.
const EnvPrefix = "AIRFI"

// NewViper returns a viper instance reading AIRFI_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds a Config from the network preset, then the config file,
// environment and flags bound to v, in increasing priority.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := Preset(NetworkType(v.GetString(KeyNetwork)))
	if err != nil {
		return nil, err
	}

	if v.IsSet(KeyRPC) {
		cfg.RPCURL = v.GetString(KeyRPC)
	}
	if v.IsSet(KeyContract) {
		cfg.Contract = v.GetString(KeyContract)
	}
	if v.IsSet(KeyTimeout) {
		cfg.Timeout = v.GetDuration(KeyTimeout)
	}
	if v.IsSet(KeyStrict) {
		cfg.Strict = v.GetBool(KeyStrict)
	}

	if v.IsSet(KeyFirewallBackend) {
		cfg.Firewall.Backend = strings.ToLower(v.GetString(KeyFirewallBackend))
	}
	if v.IsSet(KeyFirewallTable) {
		cfg.Firewall.Table = v.GetString(KeyFirewallTable)
	}
	if v.IsSet(KeyFirewallChain) {
		cfg.Firewall.Chain = v.GetString(KeyFirewallChain)
	}
	if v.IsSet(KeyFirewallPosition) {
		cfg.Firewall.Position = v.GetInt(KeyFirewallPosition)
	}
	if v.IsSet(KeyFirewallTarget) {
		cfg.Firewall.Target = v.GetString(KeyFirewallTarget)
	}

	if v.IsSet(KeyOpenWrtAddress) {
		cfg.OpenWrt.Address = v.GetString(KeyOpenWrtAddress)
	}
	if v.IsSet(KeyOpenWrtPort) {
		cfg.OpenWrt.Port = v.GetInt(KeyOpenWrtPort)
	}
	if v.IsSet(KeyOpenWrtUsername) {
		cfg.OpenWrt.Username = v.GetString(KeyOpenWrtUsername)
	}
	if v.IsSet(KeyOpenWrtPassword) {
		cfg.OpenWrt.Password = v.GetString(KeyOpenWrtPassword)
	}
	if v.IsSet(KeyOpenWrtPrivateKey) {
		cfg.OpenWrt.PrivateKey = v.GetString(KeyOpenWrtPrivateKey)
	}
	if v.IsSet(KeyOpenWrtKnownHosts) {
		cfg.OpenWrt.KnownHosts = v.GetString(KeyOpenWrtKnownHosts)
	}

	cfg.AuditDB = v.GetString(KeyAuditDB)
	cfg.MetricsFile = v.GetString(KeyMetricsFile)
	cfg.Verbose = v.GetBool(KeyVerbose)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
