package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xfeldman/lsmux/internal/daemon"
)

var (
	killProject string
	killAll     bool
)

var killCmd = &cobra.Command{
	Use:   "kill [<server>]",
	Short: "Terminate a daemon (or all of them)",
	Args: func(cmd *cobra.Command, args []string) error {
		if killAll && len(args) > 0 {
			return usagef("--all takes no server argument")
		}
		if !killAll && len(args) != 1 {
			return usagef("kill takes a server name or --all")
		}
		return nil
	},
	RunE: runKill,
}

func init() {
	killCmd.Flags().StringVar(&killProject, "project", "", "project root (default: working directory)")
	killCmd.Flags().BoolVar(&killAll, "all", false, "terminate every known daemon")
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	if killAll {
		infos, err := daemon.List(cfg.DaemonsDir())
		if err != nil {
			return err
		}
		killed := 0
		for _, info := range infos {
			d := daemon.StateDir{Path: filepath.Join(cfg.DaemonsDir(), info.Key)}
			if d.Kill() {
				killed++
				fmt.Printf("killed %s (%s, pid %d)\n", info.Meta.Server, info.Meta.ProjectRoot, info.PID)
			}
		}
		if killed == 0 {
			fmt.Println("No running daemons.")
		}
		return nil
	}

	dir, spec, err := stateDirFor(args[0], killProject)
	if err != nil {
		return err
	}
	if !dir.Kill() {
		return fmt.Errorf("no running daemon for %s", spec.Name)
	}
	fmt.Printf("killed %s daemon\n", spec.Name)
	return nil
}
