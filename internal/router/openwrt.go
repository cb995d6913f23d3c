package router

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// chain and target names are placed on a remote shell command line.
var shellSafeName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// OpenWrtConfig holds the configuration for an OpenWrt router reachable over SSH.
type OpenWrtConfig struct {
	Address    string // Router SSH address (e.g., "192.168.1.1")
	Port       int    // SSH port (default: 22)
	Username   string // SSH username (usually "root")
	Password   string // SSH password
	PrivateKey string // SSH private key (alternative to password)
	KnownHosts string // known_hosts file; host key is not checked when empty
}

// OpenWrtClient maintains the allow-list chain on a remote OpenWrt router.
type OpenWrtClient struct {
	config    OpenWrtConfig
	rule      Rule
	sshConfig *ssh.ClientConfig
	logger    *zap.Logger
}

// NewOpenWrtClient creates a new OpenWrt client.
func NewOpenWrtClient(config OpenWrtConfig, rule Rule, logger *zap.Logger) (*OpenWrtClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Port == 0 {
		config.Port = 22
	}

	for _, name := range []string{rule.Table, rule.Chain, rule.Target} {
		if name != "" && !shellSafeName.MatchString(name) {
			return nil, fmt.Errorf("invalid iptables name %q", name)
		}
	}

	var authMethods []ssh.AuthMethod

	if config.Password != "" {
		authMethods = append(authMethods, ssh.Password(config.Password))
	}

	if config.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if rule.Chain == "" || rule.Target == "" {
		return nil, fmt.Errorf("rule chain and target are required")
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method provided (password or private key required)")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if config.KnownHosts != "" {
		cb, err := knownhosts.New(config.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		logger.Warn("router host key is not verified; set a known_hosts file")
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.Username,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}

	return &OpenWrtClient{
		config:    config,
		rule:      rule,
		sshConfig: sshConfig,
		logger:    logger,
	}, nil
}

// AllowlistAdd inserts the allow rule for a MAC address on the router.
func (c *OpenWrtClient) AllowlistAdd(ctx context.Context, hardwareID string) error {
	mac, err := normalizeMACAddress(hardwareID)
	if err != nil {
		return err
	}

	c.logger.Info("allowing MAC address on router", zap.String("mac", mac))

	if _, err := c.runSSHCommand(ctx, c.addCommand(mac)); err != nil {
		return fmt.Errorf("failed to allow MAC: %w", err)
	}

	c.logger.Info("MAC allowed successfully", zap.String("mac", mac))
	return nil
}

// AllowlistRemove deletes the allow rule for a MAC address on the router.
func (c *OpenWrtClient) AllowlistRemove(ctx context.Context, hardwareID string) error {
	mac, err := normalizeMACAddress(hardwareID)
	if err != nil {
		return err
	}

	c.logger.Info("removing MAC address from router allow-list", zap.String("mac", mac))

	if _, err := c.runSSHCommand(ctx, c.removeCommand(mac)); err != nil {
		return fmt.Errorf("failed to remove MAC: %w", err)
	}

	c.logger.Info("MAC removed successfully", zap.String("mac", mac))
	return nil
}

// TestConnection checks that the router is reachable and the chain exists.
func (c *OpenWrtClient) TestConnection(ctx context.Context) error {
	output, err := c.runSSHCommand(ctx, c.listCommand())
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	if !strings.Contains(output, "-N "+c.rule.Chain) {
		return fmt.Errorf("chain %s not found on router", c.rule.Chain)
	}

	c.logger.Info("router connection test successful", zap.String("chain", c.rule.Chain))
	return nil
}

// addCommand is idempotent: the rule is only inserted when -C does not find it.
func (c *OpenWrtClient) addCommand(mac string) string {
	return fmt.Sprintf("%s 2>/dev/null || %s", c.rule.CheckCommand(mac), c.rule.InsertCommand(mac))
}

// removeCommand deletes duplicates too and succeeds when the rule is absent.
func (c *OpenWrtClient) removeCommand(mac string) string {
	return fmt.Sprintf("while %s 2>/dev/null; do :; done", c.rule.DeleteCommand(mac))
}

func (c *OpenWrtClient) listCommand() string {
	if c.rule.Table != "" && c.rule.Table != "filter" {
		return fmt.Sprintf("iptables -t %s -S %s", c.rule.Table, c.rule.Chain)
	}
	return "iptables -S " + c.rule.Chain
}

// runSSHCommand executes a command on the router via SSH.
func (c *OpenWrtClient) runSSHCommand(ctx context.Context, cmd string) (string, error) {
	addr := net.JoinHostPort(c.config.Address, strconv.Itoa(c.config.Port))

	dialer := net.Dialer{Timeout: c.sshConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("SSH connection failed: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, c.sshConfig)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("SSH handshake failed: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	c.logger.Debug("running router command", zap.String("cmd", cmd))

	output, err := session.CombinedOutput(cmd)
	if err != nil {
		return string(output), fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return string(output), nil
}

// normalizeMACAddress validates a MAC address and returns it lowercase and colon-separated.
func normalizeMACAddress(mac string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return "", fmt.Errorf("invalid MAC address %q: %w", mac, err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid MAC address %q: expected 6 bytes", mac)
	}
	return hw.String(), nil
}
