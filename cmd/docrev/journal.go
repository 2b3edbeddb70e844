package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nainya/docrev/pkg/journal"
	"github.com/nainya/docrev/pkg/notify"
)

func newJournalCmd(opts *rootOptions) *cobra.Command {
	var (
		from    uint64
		path    string
		filters []string
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print journaled events as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				cfg, err := opts.load(cmd)
				if err != nil {
					return err
				}
				path = cfg.Notify.JournalPath
			}
			if path == "" {
				return errors.New("no journal path configured")
			}

			want := make(map[notify.Type]bool, len(filters))
			for _, f := range filters {
				want[notify.Type(f)] = true
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			return journal.Replay(path, from, func(r *journal.Record) error {
				if len(want) > 0 && !want[r.Type] {
					return nil
				}
				e, err := r.Event()
				if err != nil {
					return fmt.Errorf("record %d: %w", r.Seq, err)
				}
				return enc.Encode(struct {
					Seq uint64 `json:"seq"`
					notify.Event
				}{r.Seq, e})
			})
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 1, "first sequence number to print")
	cmd.Flags().StringVar(&path, "path", "", "journal path, defaults to notify.journal_path")
	cmd.Flags().StringSliceVar(&filters, "type", nil, "only print these event types")
	return cmd
}
