package docland

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docland/docland/pkg/container"
	"github.com/docland/docland/pkg/domain"
)

var (
	searchLimit   int
	searchSources []string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		c, err := container.Get()
		if err != nil {
			return err
		}
		embedder, err := c.Embedder(ctx)
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

		vector, err := embedder.EmbedOne(ctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		hits, err := store.Search(ctx, vector, domain.SearchOptions{
			Sources: searchSources,
			Limit:   searchLimit,
		})
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("no results")
			return nil
		}
		for i, hit := range hits {
			heading, _ := hit.Metadata["heading_context"].(string)
			fmt.Printf("%d. [%.3f] %s/%s #%d", i+1, hit.Score, hit.Source, hit.Filename, hit.ChunkIndex)
			if heading != "" {
				fmt.Printf("  (%s)", heading)
			}
			fmt.Println()
			fmt.Printf("   %s\n", snippet(hit.Content, 200))
		}
		return nil
	},
}

func snippet(content string, n int) string {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) <= n {
		return content
	}
	return content[:n] + "…"
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "maximum number of results")
	searchCmd.Flags().StringSliceVar(&searchSources, "source", nil, "restrict to these sources (repeatable)")

	RootCmd.AddCommand(searchCmd)
}
