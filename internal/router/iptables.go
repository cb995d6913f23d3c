package router

import (
	"context"
	"fmt"

	"github.com/coreos/go-iptables/iptables"
	"go.uber.org/zap"
)

// maxRuleCopies bounds how many duplicate rules AllowlistRemove will delete.
const maxRuleCopies = 16

// ruleTable is the subset of *iptables.IPTables used by the allow-list.
type ruleTable interface {
	ChainExists(table, chain string) (bool, error)
	Exists(table, chain string, rulespec ...string) (bool, error)
	Insert(table, chain string, pos int, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
}

// IPTablesAllowlist manages the allow-list on the local netfilter tables.
type IPTablesAllowlist struct {
	ipt    ruleTable
	rule   Rule
	logger *zap.Logger
}

// NewIPTablesAllowlist creates an allow-list driving the local iptables binary.
func NewIPTablesAllowlist(rule Rule, logger *zap.Logger) (*IPTablesAllowlist, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize iptables: %w", err)
	}
	return newIPTablesAllowlist(ipt, rule, logger), nil
}

func newIPTablesAllowlist(ipt ruleTable, rule Rule, logger *zap.Logger) *IPTablesAllowlist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPTablesAllowlist{ipt: ipt, rule: rule, logger: logger}
}

// AllowlistAdd inserts the rule for hardwareID unless it is already present.
func (a *IPTablesAllowlist) AllowlistAdd(ctx context.Context, hardwareID string) error {
	if err := a.ensureChain(); err != nil {
		return err
	}

	spec := a.rule.Spec(hardwareID)
	exists, err := a.ipt.Exists(a.rule.Table, a.rule.Chain, spec...)
	if err != nil {
		return fmt.Errorf("failed to check allow-list rule: %w", err)
	}
	if exists {
		a.logger.Info("MAC already allowed", zap.String("mac", hardwareID))
		return nil
	}

	if err := a.ipt.Insert(a.rule.Table, a.rule.Chain, a.rule.Position, spec...); err != nil {
		return fmt.Errorf("failed to insert allow-list rule: %w", err)
	}

	a.logger.Info("MAC allowed",
		zap.String("mac", hardwareID),
		zap.String("chain", a.rule.Chain),
		zap.Int("position", a.rule.Position),
	)
	return nil
}

// AllowlistRemove deletes every copy of the rule for hardwareID.
func (a *IPTablesAllowlist) AllowlistRemove(ctx context.Context, hardwareID string) error {
	chainExists, err := a.ipt.ChainExists(a.rule.Table, a.rule.Chain)
	if err != nil {
		return fmt.Errorf("failed to look up chain %s: %w", a.rule.Chain, err)
	}
	if !chainExists {
		a.logger.Info("chain missing, nothing to remove", zap.String("chain", a.rule.Chain))
		return nil
	}

	spec := a.rule.Spec(hardwareID)
	removed := 0
	for removed < maxRuleCopies {
		exists, err := a.ipt.Exists(a.rule.Table, a.rule.Chain, spec...)
		if err != nil {
			return fmt.Errorf("failed to check allow-list rule: %w", err)
		}
		if !exists {
			break
		}
		if err := a.ipt.Delete(a.rule.Table, a.rule.Chain, spec...); err != nil {
			return fmt.Errorf("failed to delete allow-list rule: %w", err)
		}
		removed++
	}

	if removed == 0 {
		a.logger.Info("MAC not in allow-list (already removed)", zap.String("mac", hardwareID))
		return nil
	}
	a.logger.Info("MAC removed", zap.String("mac", hardwareID), zap.Int("rules", removed))
	return nil
}

// TestConnection checks that the allow-list chain exists.
func (a *IPTablesAllowlist) TestConnection(ctx context.Context) error {
	return a.ensureChain()
}

func (a *IPTablesAllowlist) ensureChain() error {
	exists, err := a.ipt.ChainExists(a.rule.Table, a.rule.Chain)
	if err != nil {
		return fmt.Errorf("failed to look up chain %s: %w", a.rule.Chain, err)
	}
	if !exists {
		return fmt.Errorf("chain %s not found in table %s", a.rule.Chain, a.rule.Table)
	}
	return nil
}
