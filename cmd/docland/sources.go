package docland

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/docland/docland/pkg/container"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List vector store partitions with row counts and last runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := container.Get()
		if err != nil {
			return err
		}
		store, err := c.VectorStore(ctx)
		if err != nil {
			return err
		}
		if err := store.EnsureReady(ctx); err != nil {
			return err
		}
		stats, err := store.GetStats(ctx)
		if err != nil {
			return err
		}
		if len(stats.Sources) == 0 {
			fmt.Println("no sources ingested yet")
			return nil
		}

		names := make([]string, 0, len(stats.Sources))
		for name := range stats.Sources {
			names = append(names, name)
		}
		sort.Strings(names)

		stateStore, stateErr := c.State()
		for _, name := range names {
			fmt.Printf("%-30s %8d chunks", name, stats.Sources[name])
			if stateErr == nil {
				if last, err := stateStore.LastRun(ctx, name); err == nil && last != nil {
					fmt.Printf("   last run %s (%s)",
						last.FinishedAt.Local().Format("2006-01-02 15:04"), last.Status)
				}
			}
			fmt.Println()
		}
		fmt.Printf("total: %d chunks\n", stats.TotalRows)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(sourcesCmd)
}
