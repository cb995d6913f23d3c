package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airfi/airfi-gate/internal/ledger"
	"github.com/airfi/airfi-gate/internal/router"
)

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the ledger node and the gateway firewall are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
				defer cancel()
			}

			fmt.Fprintf(a.stdout, "Connecting to RPC: %s\n", a.cfg.RPCURL)
			conn, err := ledger.NewEthDialer(a.logger.Named("ledger")).Dial(ctx, a.cfg.RPCURL)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := conn.Ping(ctx); err != nil {
				return err
			}
			if eth, ok := conn.(*ledger.EthConn); ok && eth.ChainID() != nil {
				fmt.Fprintf(a.stdout, "Ledger OK (chain id %s)\n", eth.ChainID())
			} else {
				fmt.Fprintln(a.stdout, "Ledger OK")
			}

			allowlist, err := a.allowlist()
			if err != nil {
				return fmt.Errorf("failed to set up %s allow-list: %w", a.cfg.Firewall.Backend, err)
			}
			tester, ok := allowlist.(router.Tester)
			if !ok {
				fmt.Fprintf(a.stdout, "Firewall: %s backend, nothing to check\n", a.cfg.Firewall.Backend)
				return nil
			}
			if err := tester.TestConnection(ctx); err != nil {
				return fmt.Errorf("firewall check failed: %w", err)
			}
			fmt.Fprintf(a.stdout, "Firewall OK (%s, chain %s)\n", a.cfg.Firewall.Backend, a.cfg.Firewall.Chain)
			return nil
		},
	}
}
