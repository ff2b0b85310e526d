package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/xfeldman/lsmux/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lsmux version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lsmux %s (%s)\n", version.Version(), runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
