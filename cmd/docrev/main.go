// docrev serves versioned documents over gRPC
// and runs maintenance against a database file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nainya/docrev/internal/config"
)

// Version is set at build time
var Version = "dev"

type rootOptions struct {
	configPath string
	envFiles   []string
	dbPath     string
	logLevel   string
	pretty     bool
}

// load reads the configuration and applies flags given on the command line
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DB.Path = o.dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = o.pretty
	}
	return cfg, cfg.Validate()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "docrev",
		Short:         "Document version control service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	pf.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before DOCREV_* overrides")
	pf.StringVar(&opts.dbPath, "db", "", "database file path")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level")
	pf.BoolVar(&opts.pretty, "pretty", false, "human readable logs")

	root.AddCommand(
		newServeCmd(opts),
		newSweepCmd(opts),
		newJournalCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "docrev %s\n", Version)
			},
		},
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "docrev:", err)
		os.Exit(1)
	}
}
