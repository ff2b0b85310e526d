package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xfeldman/lsmux/internal/logstore"
)

var (
	logsProject string
	logsTail    int
)

var logsCmd = &cobra.Command{
	Use:   "logs <server>",
	Short: "Show captured language server output",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usagef("logs takes exactly one server name")
		}
		return nil
	},
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsProject, "project", "", "project root (default: working directory)")
	logsCmd.Flags().IntVar(&logsTail, "tail", 200, "show at most this many lines (0 for all)")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir, spec, err := stateDirFor(args[0], logsProject)
	if err != nil {
		return err
	}
	entries, err := logstore.ReadFile(dir.ServerLogPath(), logsTail)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no logs for %s (daemon never ran here?)", spec.Name)
		}
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s [%s] %s\n", e.Timestamp.Format("15:04:05.000"), e.Source, e.Line)
	}
	return nil
}
