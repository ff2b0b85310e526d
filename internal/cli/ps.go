package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xfeldman/lsmux/internal/daemon"
)

var psJSON bool

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List known daemons and their status",
	Args:  cobra.NoArgs,
	RunE:  runPS,
}

func init() {
	psCmd.Flags().BoolVar(&psJSON, "json", false, "machine-readable output")
	rootCmd.AddCommand(psCmd)
}

func runPS(cmd *cobra.Command, args []string) error {
	infos, err := daemon.List(cfg.DaemonsDir())
	if err != nil {
		return err
	}

	if psJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if infos == nil {
			infos = []daemon.Info{}
		}
		return enc.Encode(infos)
	}

	if len(infos) == 0 {
		fmt.Println("No daemons found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tPROJECT\tPID\tSTATUS")
	for _, info := range infos {
		pid := "-"
		if info.PID > 0 {
			pid = fmt.Sprintf("%d", info.PID)
		}
		server, project := info.Meta.Server, info.Meta.ProjectRoot
		if server == "" {
			server, project = "?", info.Key
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", server, project, pid, info.Status)
	}
	return w.Flush()
}
