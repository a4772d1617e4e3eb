// Command finsyncd runs the request scheduler and cache sync coordinator of
// the finance client as a local daemon with an admin API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configFiles []string
	envFiles    []string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "finsyncd",
		Short:         "finsyncd - request scheduling and cache sync for the finance client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVarP(&opts.configFiles, "config", "c", nil, "config file(s), merged in order")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv file(s) loaded before the config")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newGraphCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "finsyncd:", err)
		os.Exit(1)
	}
}
