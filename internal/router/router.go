// Package router provides gateway allow-list control for WiFi access.
package router

import (
	"context"
	"fmt"
	"strings"
)

// Allowlist adds and removes client hardware addresses from the gateway's
// internet_access chain.
type Allowlist interface {
	// AllowlistAdd lets the device with the given MAC address reach the internet.
	AllowlistAdd(ctx context.Context, hardwareID string) error

	// AllowlistRemove revokes internet access for the given MAC address.
	AllowlistRemove(ctx context.Context, hardwareID string) error
}

// Tester is implemented by allow-lists that can check their gateway is usable.
type Tester interface {
	TestConnection(ctx context.Context) error
}

// Rule locates the allow-list rule in the packet filter.
type Rule struct {
	Table    string // iptables table (default "filter")
	Chain    string // chain jumped to for captive clients
	Position int    // 1-based insert position
	Target   string // jump target for allowed clients
}

// DefaultRule returns the rule used by the captive portal firewall setup.
func DefaultRule() Rule {
	return Rule{
		Table:    "filter",
		Chain:    "internet_access",
		Position: 1,
		Target:   "RETURN",
	}
}

// Spec returns the match and target arguments for mac.
func (r Rule) Spec(mac string) []string {
	return []string{"-m", "mac", "--mac-source", mac, "-j", r.Target}
}

// InsertCommand renders the iptables command that adds mac.
func (r Rule) InsertCommand(mac string) string {
	return r.command(fmt.Sprintf("-I %s %d", r.Chain, r.Position), mac)
}

// DeleteCommand renders the iptables command that removes mac.
func (r Rule) DeleteCommand(mac string) string {
	return r.command("-D "+r.Chain, mac)
}

// CheckCommand renders the iptables command that tests whether mac is present.
func (r Rule) CheckCommand(mac string) string {
	return r.command("-C "+r.Chain, mac)
}

func (r Rule) command(op, mac string) string {
	parts := []string{"iptables"}
	if r.Table != "" && r.Table != "filter" {
		parts = append(parts, "-t", r.Table)
	}
	parts = append(parts, op)
	parts = append(parts, r.Spec(mac)...)
	return strings.Join(parts, " ")
}

// NoopAllowlist is a no-op allow-list for testing or when no gateway is managed.
type NoopAllowlist struct{}

// AllowlistAdd does nothing.
func (NoopAllowlist) AllowlistAdd(ctx context.Context, hardwareID string) error {
	return nil
}

// AllowlistRemove does nothing.
func (NoopAllowlist) AllowlistRemove(ctx context.Context, hardwareID string) error {
	return nil
}
