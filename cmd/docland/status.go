package docland

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docland/docland/pkg/backends"
	"github.com/docland/docland/pkg/container"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe every configured backend and print readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		c, err := container.Get()
		if err != nil {
			return err
		}

		checks := []struct {
			label string
			probe func() error
		}{
			{"parser", func() error { _, err := c.Parser(ctx); return err }},
			{"archive", func() error { _, err := c.Archive(ctx); return err }},
			{"embedder", func() error { _, err := c.Embedder(ctx); return err }},
			{"llm", func() error { _, err := c.LLM(ctx); return err }},
			{"vector store", func() error {
				store, err := c.VectorStore(ctx)
				if err != nil {
					return err
				}
				return store.EnsureReady(ctx)
			}},
			{"rag", func() error { _, err := c.RAG(ctx); return err }},
			{"tika", func() error { _, err := c.Tika(); return err }},
			{"renderer", func() error { _, err := c.Renderer(); return err }},
		}

		for _, check := range checks {
			name := ""
			switch check.label {
			case "parser":
				name = c.EffectiveBackend(backends.KindParser)
			case "archive":
				name = c.EffectiveBackend(backends.KindArchive)
			case "embedder":
				name = c.EffectiveBackend(backends.KindEmbedder)
			case "llm":
				name = c.EffectiveBackend(backends.KindLLM)
			case "vector store", "rag":
				name = c.EffectiveBackend(backends.KindVectorStore)
			}
			if err := check.probe(); err != nil {
				fmt.Printf("❌ %-12s %s: %v\n", check.label, name, err)
			} else {
				fmt.Printf("✅ %-12s %s\n", check.label, name)
			}
		}

		if store, err := c.VectorStore(ctx); err == nil {
			if stats, err := store.GetStats(ctx); err == nil {
				fmt.Printf("📦 %d chunks across %d sources\n", stats.TotalRows, len(stats.Sources))
			}
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
}
