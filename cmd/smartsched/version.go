package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

var (
	versionOnce   sync.Once
	cachedVersion string
)

// appVersion returns the best-effort version of the binary: the
// SMARTSCHED_VERSION variable, then Go build information, then "development".
func appVersion() string {
	versionOnce.Do(func() {
		cachedVersion = detectVersion()
	})
	return cachedVersion
}

func detectVersion() string {
	if v := strings.TrimSpace(os.Getenv("SMARTSCHED_VERSION")); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				revision := setting.Value
				if len(revision) > 12 {
					revision = revision[:12]
				}
				return "dev-" + revision
			}
		}
	}
	return "development"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "smartsched %s (%s %s/%s)\n", appVersion(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
