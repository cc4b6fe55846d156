package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"smartsched/internal/config"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// isTTY reports whether both stdin and stdout are terminals.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

type rootOptions struct {
	configFile string
	verbose    bool
}

// load reads the configuration named by --config, or the default search
// paths when the flag is empty.
func (o *rootOptions) load() (config.Config, config.Metadata, error) {
	var opts []config.Option
	if o.configFile != "" {
		opts = append(opts, config.WithConfigFile(o.configFile))
	}
	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, config.Metadata{}, err
	}
	if o.verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	return cfg, meta, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "smartsched",
		Short: "Conversational meeting scheduling",
		Long: fmt.Sprintf(`%s

Negotiates a meeting time over several turns: it collects duration and
timing preferences, proposes free slots from your calendar, widens the
search when nothing fits and books the slot you confirm.

%s
  smartsched serve                    # HTTP + websocket API
  smartsched chat                     # Interactive session in the terminal
  smartsched config init              # Write smartsched.yaml with defaults
  smartsched calendar add --title "Standup" --start 2026-02-03T09:00:00Z --end 2026-02-03T09:30:00Z`,
			bold("smartsched "+appVersion()),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Config file (default ./smartsched.yaml or ~/.smartsched/smartsched.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newChatCommand(opts))
	root.AddCommand(newConfigCommand(opts))
	root.AddCommand(newCalendarCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}
