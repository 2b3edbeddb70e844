package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var locksOnly, retentionOnly bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired locks and apply retention once, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !retentionOnly {
				start := time.Now()
				n, err := a.engine.SweepLocks(ctx)
				log.DbLogger("sweep_locks").LogDbOperation(time.Since(start), n, err)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "expired locks removed: %d\n", n)
			}
			if !locksOnly {
				start := time.Now()
				n, err := a.engine.SweepRetention(ctx)
				log.DbLogger("sweep_retention").LogDbOperation(time.Since(start), n, err)
				fmt.Fprintf(out, "versions archived or deleted: %d\n", n)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&locksOnly, "locks", false, "only sweep expired locks")
	cmd.Flags().BoolVar(&retentionOnly, "retention", false, "only apply retention")
	cmd.MarkFlagsMutuallyExclusive("locks", "retention")
	return cmd
}
