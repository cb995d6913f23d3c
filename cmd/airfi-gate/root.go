package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/airfi/airfi-gate/internal/config"
	"github.com/airfi/airfi-gate/internal/db"
	"github.com/airfi/airfi-gate/internal/ledger"
	"github.com/airfi/airfi-gate/internal/metrics"
	"github.com/airfi/airfi-gate/internal/router"
	"github.com/airfi/airfi-gate/internal/verifier"
)

// app carries the state of one invocation.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer

	exitCode int
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		v:      config.NewViper(),
		logger: zap.NewNop(),
		stdout: stdout,
		stderr: stderr,
	}
}

func (a *app) sync() {
	_ = a.logger.Sync()
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "airfi-gate <wallet> <mac>",
		Short: "Grant or revoke WiFi access from an on-chain ticket",
		Long: `airfi-gate asks the WiFi ticket contract whether a wallet holds an active
ticket and adds the client's MAC address to the gateway allow-list when it
does, or removes it when it does not.

Exit status is 0 when access was granted and 1 otherwise.`,
		Args:              cobra.ExactArgs(2),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
		RunE:              a.runVerify,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("network", string(config.NetworkSepolia), "network preset: sepolia or devnet")
	flags.String("rpc", "", "ledger RPC endpoint URL")
	flags.String("contract", "", "ticket contract address")
	flags.Duration("timeout", config.DefaultTimeout, "limit for connecting and the contract call (0 disables)")
	flags.Bool("strict", false, "fail when the allow-list cannot be updated")
	flags.String("firewall", config.BackendIPTables, "allow-list backend: iptables, openwrt, log or none")
	flags.String("table", "filter", "iptables table")
	flags.String("chain", "internet_access", "iptables chain holding the allow-list")
	flags.Int("position", 1, "insert position of allow rules")
	flags.String("target", "RETURN", "jump target of allow rules")
	flags.String("openwrt-address", "", "OpenWrt gateway address")
	flags.Int("openwrt-port", 22, "OpenWrt SSH port")
	flags.String("openwrt-user", "root", "OpenWrt SSH user")
	flags.String("openwrt-password", "", "OpenWrt SSH password")
	flags.String("openwrt-key", "", "OpenWrt SSH private key file or PEM contents")
	flags.String("openwrt-known-hosts", "", "known_hosts file used to verify the OpenWrt host key")
	flags.String("audit-db", "", "record every verification in this SQLite database")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile collector file")
	flags.BoolP("verbose", "v", false, "enable debug logging")

	a.bindFlags(flags, map[string]string{
		config.KeyConfigFile:        "config",
		config.KeyNetwork:           "network",
		config.KeyRPC:               "rpc",
		config.KeyContract:          "contract",
		config.KeyTimeout:           "timeout",
		config.KeyStrict:            "strict",
		config.KeyFirewallBackend:   "firewall",
		config.KeyFirewallTable:     "table",
		config.KeyFirewallChain:     "chain",
		config.KeyFirewallPosition:  "position",
		config.KeyFirewallTarget:    "target",
		config.KeyOpenWrtAddress:    "openwrt-address",
		config.KeyOpenWrtPort:       "openwrt-port",
		config.KeyOpenWrtUsername:   "openwrt-user",
		config.KeyOpenWrtPassword:   "openwrt-password",
		config.KeyOpenWrtPrivateKey: "openwrt-key",
		config.KeyOpenWrtKnownHosts: "openwrt-known-hosts",
		config.KeyAuditDB:           "audit-db",
		config.KeyMetricsFile:       "metrics-file",
		config.KeyVerbose:           "verbose",
	})

	cmd.AddCommand(a.historyCmd(), a.checkCmd())
	return cmd
}

func (a *app) bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func (a *app) loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(a.stderr, cfg.Verbose)
	return nil
}

// allowlist builds the allow-list backend selected in the configuration.
func (a *app) allowlist() (router.Allowlist, error) {
	rule := router.Rule{
		Table:    a.cfg.Firewall.Table,
		Chain:    a.cfg.Firewall.Chain,
		Position: a.cfg.Firewall.Position,
		Target:   a.cfg.Firewall.Target,
	}

	switch a.cfg.Firewall.Backend {
	case config.BackendIPTables:
		ipt, err := router.NewIPTablesAllowlist(rule, a.logger.Named("iptables"))
		if err != nil {
			return nil, err
		}
		return ipt, nil
	case config.BackendOpenWrt:
		key, err := readPrivateKey(a.cfg.OpenWrt.PrivateKey)
		if err != nil {
			return nil, err
		}
		client, err := router.NewOpenWrtClient(router.OpenWrtConfig{
			Address:    a.cfg.OpenWrt.Address,
			Port:       a.cfg.OpenWrt.Port,
			Username:   a.cfg.OpenWrt.Username,
			Password:   a.cfg.OpenWrt.Password,
			PrivateKey: key,
			KnownHosts: a.cfg.OpenWrt.KnownHosts,
		}, rule, a.logger.Named("openwrt"))
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendLog:
		return router.NewLogAllowlist(rule, a.stdout), nil
	default:
		return router.NoopAllowlist{}, nil
	}
}

// readPrivateKey accepts either PEM contents or the path of a key file.
func readPrivateKey(value string) (string, error) {
	if value == "" || strings.HasPrefix(strings.TrimSpace(value), "-----BEGIN") {
		return value, nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("failed to read SSH private key: %w", err)
	}
	return string(data), nil
}

func (a *app) runVerify(cmd *cobra.Command, args []string) error {
	wallet, mac := args[0], args[1]
	a.exitCode = 1

	allowlist, err := a.allowlist()
	if err != nil {
		return fmt.Errorf("failed to set up %s allow-list: %w", a.cfg.Firewall.Backend, err)
	}

	fmt.Fprintf(a.stdout, "Connecting to RPC: %s\n", a.cfg.RPCURL)
	fmt.Fprintf(a.stdout, "Contract: %s\n", a.cfg.Contract)
	fmt.Fprintf(a.stdout, "Verifying User: %s\n", wallet)

	v := verifier.New(verifier.Config{
		Endpoint:   a.cfg.RPCURL,
		Contract:   a.cfg.Contract,
		Timeout:    a.cfg.Timeout,
		Strict:     a.cfg.Strict,
		OnDecision: a.announce,
	}, ledger.NewEthDialer(a.logger.Named("ledger")), allowlist, a.logger.Named("verifier"))

	result, err := v.Verify(cmd.Context(), verifier.Request{Wallet: wallet, Hardware: mac})
	if err != nil {
		fmt.Fprintf(a.stdout, "Verification Error: %v\n", err)
	} else if result.MutationErr != nil {
		fmt.Fprintf(a.stderr, "Warning: allow-list not updated: %v\n", result.MutationErr)
	}

	a.recordAudit(result)
	a.writeMetrics(result)

	if err == nil && result.Granted() {
		a.exitCode = 0
	}
	return nil
}

func (a *app) announce(result *verifier.Result) {
	if result.Granted() {
		fmt.Fprintf(a.stdout, "Access GRANTED for %s\n", result.Wallet.Hex())
		return
	}
	fmt.Fprintf(a.stdout, "Access DENIED for %s\n", result.Wallet.Hex())
}

// recordAudit stores result in the audit database, if one is configured.
// Failures are logged and never change the outcome.
func (a *app) recordAudit(result *verifier.Result) {
	if a.cfg.AuditDB == "" {
		return
	}

	store, err := db.Open(a.cfg.AuditDB)
	if err != nil {
		a.logger.Error("failed to open audit database", zap.String("path", a.cfg.AuditDB), zap.Error(err))
		return
	}
	defer store.Close()

	if err := store.RecordVerification(auditRecord(result)); err != nil {
		a.logger.Error("failed to record verification", zap.String("id", result.ID), zap.Error(err))
	}
}

func auditRecord(result *verifier.Result) *db.Verification {
	rec := &db.Verification{
		ID:              result.ID,
		CreatedAt:       result.StartedAt,
		Endpoint:        result.Endpoint,
		MACAddress:      result.Hardware,
		State:           string(result.State),
		Decision:        string(result.Decision),
		ErrorKind:       verifier.KindName(result.Err),
		OracleLatencyMs: result.OracleLatency.Milliseconds(),
	}
	if result.Contract != (common.Address{}) {
		rec.Contract = result.Contract.Hex()
	}
	if result.Wallet != (common.Address{}) {
		rec.Wallet = result.Wallet.Hex()
	}
	if result.Err != nil {
		rec.Error = result.Err.Error()
	}
	if result.MutationErr != nil {
		rec.MutationError = result.MutationErr.Error()
	}
	return rec
}

// writeMetrics exports result to the textfile collector, if configured.
func (a *app) writeMetrics(result *verifier.Result) {
	if a.cfg.MetricsFile == "" {
		return
	}

	recorder := metrics.NewRecorder()
	recorder.Observe(result.StartedAt, string(result.State), result.OracleLatency, verifier.KindName(result.Err))
	if err := recorder.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.logger.Error("failed to write metrics", zap.String("path", a.cfg.MetricsFile), zap.Error(err))
	}
}
