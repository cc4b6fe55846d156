package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"smartsched/internal/config"
	"smartsched/internal/infra/filestore"
	"smartsched/internal/observability"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("Wrote "+path))
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, meta, err := opts.load()
			if err != nil {
				return err
			}
			data, err := renderConfig(cfg)
			if err != nil {
				return err
			}
			source := "defaults and environment"
			if meta.File != "" {
				source = meta.File
			}
			fmt.Fprintln(cmd.OutOrStdout(), gray("# from "+source))
			fmt.Fprint(cmd.OutOrStdout(), data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "diff",
		Short: "Show where the effective configuration differs from the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			defaults, err := renderConfig(config.Default())
			if err != nil {
				return err
			}
			effective, err := renderConfig(cfg)
			if err != nil {
				return err
			}
			if writeLineDiff(cmd.OutOrStdout(), defaults, effective) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), gray("No differences from defaults."))
			}
			return nil
		},
	})
	return cmd
}

func renderConfig(cfg config.Config) (string, error) {
	cfg.Extractor.APIKey = observability.SanitizeAPIKey(cfg.Extractor.APIKey)
	cfg.Session.Dir = filestore.ResolvePath(cfg.Session.Dir, "")
	cfg.Session.SQLitePath = filestore.ResolvePath(cfg.Session.SQLitePath, "")
	cfg.Calendar.SQLitePath = filestore.ResolvePath(cfg.Calendar.SQLitePath, "")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}

// writeLineDiff prints removed lines with "-" and added lines with "+" and
// returns how many changed lines it wrote.
func writeLineDiff(w io.Writer, before, after string) int {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	changed := 0
	for _, d := range diffs {
		var (
			prefix string
			paint  func(...interface{}) string
		)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix, paint = "-", red
		case diffmatchpatch.DiffInsert:
			prefix, paint = "+", green
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			fmt.Fprint(w, paint(prefix+line))
			changed++
		}
	}
	return changed
}
