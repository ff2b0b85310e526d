package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xfeldman/lsmux/internal/daemon"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove state directories of dead daemons",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := daemon.Prune(cfg.DaemonsDir())
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Println("Nothing to prune.")
			return nil
		}
		for _, key := range removed {
			fmt.Println("removed", key)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
