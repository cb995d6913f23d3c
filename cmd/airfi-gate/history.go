package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/airfi/airfi-gate/internal/db"
)

func (a *app) historyCmd() *cobra.Command {
	var (
		limit int
		mac   string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent verifications from the audit database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.AuditDB == "" {
				return errors.New("no audit database configured (use --audit-db)")
			}

			store, err := db.Open(a.cfg.AuditDB)
			if err != nil {
				return fmt.Errorf("failed to open audit database: %w", err)
			}
			defer store.Close()

			var records []*db.Verification
			if mac != "" {
				records, err = store.ListByMAC(mac, limit)
			} else {
				records, err = store.ListVerifications(limit)
			}
			if err != nil {
				return fmt.Errorf("failed to list verifications: %w", err)
			}

			if len(records) == 0 {
				fmt.Fprintln(a.stdout, "No verifications recorded.")
				return nil
			}

			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSTATE\tWALLET\tMAC\tLATENCY\tERROR")
			for _, r := range records {
				detail := r.Error
				if detail == "" {
					detail = r.MutationError
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
					r.CreatedAt.Local().Format(time.DateTime),
					r.State,
					orDash(r.Wallet),
					orDash(r.MACAddress),
					r.OracleLatencyMs,
					orDash(detail),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	cmd.Flags().StringVar(&mac, "mac", "", "only show verifications for this MAC address")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
