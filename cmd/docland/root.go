package docland

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docland/docland/pkg/config"
	"github.com/docland/docland/pkg/container"
	"github.com/docland/docland/pkg/log"
)

var (
	cfgFile string
	debug   bool
	cfg     *config.Config
	version = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "docland",
	Short: "docland - scraped-document ingestion pipeline",
	Long: `docland ingests scraped documents into a long-term archive and a
semantic search index: it converts each artifact to markdown, enriches the
metadata, uploads a human-readable copy to the archive, and chunks, embeds
and stores the text in a partitioned vector store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			log.SetDebug(true)
		}
		if cmd.Name() == "version" || cmd.Name() == "init" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		container.Init(cfg)
		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// SetVersion sets the version printed by the version command.
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docland version %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ~/.docland/docland.toml or ./docland.toml)")
	RootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging output")

	RootCmd.AddCommand(versionCmd)
}
