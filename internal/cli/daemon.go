package cli

import (
	"github.com/spf13/cobra"

	"github.com/xfeldman/lsmux/internal/daemon"
)

var (
	daemonServer      string
	daemonProjectRoot string
	daemonSocket      string
)

// daemonCmd is the internal entry point connect re-invokes in a
// detached process. Hidden: users never run it by hand.
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run a daemon in the foreground (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonServer, "server", "", "server name")
	daemonCmd.Flags().StringVar(&daemonProjectRoot, "projectRoot", "", "project root")
	daemonCmd.Flags().StringVar(&daemonSocket, "socket", "", "socket path override")
	daemonCmd.MarkFlagRequired("server")
	daemonCmd.MarkFlagRequired("projectRoot")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	spec, err := resolveSpec(daemonServer)
	if err != nil {
		return err
	}
	root, err := resolveProject(daemonProjectRoot)
	if err != nil {
		return err
	}
	return daemon.Run(cmd.Context(), daemon.Options{
		Spec:        spec,
		ProjectRoot: root,
		SocketPath:  daemonSocket,
		Config:      cfg,
	})
}
