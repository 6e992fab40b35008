package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/helpdesk/internal/knowledge"
)

func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}

	cmd.AddCommand(newKBSeedCmd())
	cmd.AddCommand(newKBSearchCmd())
	return cmd
}

func newKBSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Embed and insert knowledge entries, skipping ones already present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var entries []knowledge.Entry
			if file != "" {
				entries, err = knowledge.LoadEntries(file)
			} else {
				entries, err = knowledge.DefaultEntries()
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newBaseApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := knowledge.Seed(ctx, a.embedder, a.kbProvider, entries, log)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d entries (%d already present) into %s backend\n", res.Added, res.Skipped, backendName(cfg.RAG.Backend))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSON file of entries (default: built-in entries)")
	return cmd
}

func newKBSearchCmd() *cobra.Command {
	var (
		category string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base the way the agent does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if category != "" && !knowledge.ValidCategory(category) {
				return fmt.Errorf("unknown category %q", category)
			}

			ctx := context.Background()
			a, err := newBaseApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			chunks, err := a.retriever.Search(ctx, args[0], category, limit)
			if err != nil {
				return err
			}
			if len(chunks) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, c := range chunks {
				marker := " "
				if c.Score >= a.retriever.Threshold() {
					marker = "*"
				}
				fmt.Printf("%s %.3f  [%s] %s\n", marker, c.Score, c.Category, c.Title)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "restrict to one category")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of results (default: rag.topK)")
	return cmd
}

func backendName(b string) string {
	if b == "" {
		return "sqlite"
	}
	return b
}
