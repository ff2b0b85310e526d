package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xfeldman/lsmux/internal/discover"
	"github.com/xfeldman/lsmux/internal/logging"
	"github.com/xfeldman/lsmux/internal/proxy"
)

var connectProject string

var connectCmd = &cobra.Command{
	Use:   "connect <server>",
	Short: "Attach this editor's stdio to the shared daemon",
	Long: `Connect proxies standard input and output to the daemon for the given
server and project, starting the daemon when none is listening. Editors
configure this as the language server command, e.g.:

    lsmux connect tsgo --project /path/to/repo`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usagef("connect takes exactly one server name")
		}
		return nil
	},
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&connectProject, "project", "", "project root (default: working directory)")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	spec, err := resolveSpec(args[0])
	if err != nil {
		return err
	}
	root, err := resolveProject(connectProject)
	if err != nil {
		return err
	}

	// Fail here with an install hint rather than letting the daemon
	// die quietly in the background.
	if _, err := discover.Find(spec, root); err != nil {
		var nf *discover.NotFoundError
		if errors.As(err, &nf) && nf.Hint() != "" {
			return fmt.Errorf("%w\n  try: %s", err, nf.Hint())
		}
		return err
	}

	logger := logging.ForTerminal(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	conn, err := proxy.EnsureDaemon(cfg, proxy.SelfExe(), spec.Name, root, logger)
	if err != nil {
		return err
	}
	return proxy.Pump(cmd.Context(), conn, os.Stdin, os.Stdout)
}
