package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xfeldman/lsmux/internal/store"
)

var (
	statsProject string
	statsRecent  int
)

var statsCmd = &cobra.Command{
	Use:   "stats <server>",
	Short: "Show event counts and recent activity for a daemon",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usagef("stats takes exactly one server name")
		}
		return nil
	},
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsProject, "project", "", "project root (default: working directory)")
	statsCmd.Flags().IntVar(&statsRecent, "recent", 10, "recent events to show")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	dir, spec, err := stateDirFor(args[0], statsProject)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir.EventsDBPath()); err != nil {
		return fmt.Errorf("no stats for %s (daemon never ran here?)", spec.Name)
	}

	db, err := store.Open(dir.EventsDBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	sum, err := db.Summary()
	if err != nil {
		return err
	}
	kinds := make([]string, 0, len(sum))
	for k := range sum {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tCOUNT")
	for _, k := range kinds {
		fmt.Fprintf(w, "%s\t%d\n", k, sum[k])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if statsRecent > 0 {
		events, err := db.Recent(statsRecent)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			fmt.Println()
			for _, e := range events {
				line := e.Kind
				if e.Detail != "" {
					line += " " + e.Detail
				}
				fmt.Printf("%s  %s\n", e.Timestamp.Local().Format("15:04:05"), line)
			}
		}
	}
	return nil
}
