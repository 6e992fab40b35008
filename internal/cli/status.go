package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/helpdesk/internal/accounting"
	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/llm"
	"github.com/soyeahso/helpdesk/internal/store"
	"github.com/soyeahso/helpdesk/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show helpdesk status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.Info())
			fmt.Println()

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:  error loading: %v\n", err)
				return nil
			}
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Println("Config:  not found (using defaults)")
			}

			fmt.Printf("Server:  port=%d bind=%s auth=%s concurrency=%d\n",
				cfg.Server.Port, cfg.Server.Bind, cfg.Server.Auth.Mode, cfg.Server.MaxConcurrency)

			registry := llm.NewRegistryFromConfig(&cfg, log)
			if providers := registry.List(); len(providers) > 0 {
				fmt.Printf("LLM:     %s\n", strings.Join(providers, ", "))
			} else {
				fmt.Println("LLM:     (none configured, model tiers will escalate)")
			}
			fmt.Printf("Models:  classifier=%s simple=%s medium=%s complex=%s\n",
				llm.Ref(cfg.Models.Classifier), llm.Ref(cfg.Models.Simple),
				llm.Ref(cfg.Models.Medium), llm.Ref(cfg.Models.Complex))

			fmt.Printf("RAG:     backend=%s topK=%d threshold=%.2f\n",
				backendName(cfg.RAG.Backend), cfg.RAG.TopK, cfg.RAG.SimilarityThreshold)
			if cfg.Cache.Enabled {
				fmt.Printf("Cache:   backend=%s ttl=%s\n", backendName(cfg.Cache.Backend), cfg.Cache.TTL())
			} else {
				fmt.Println("Cache:   disabled")
			}
			if cfg.Events.Enabled {
				fmt.Printf("Events:  kafka brokers=%s\n", strings.Join(cfg.Events.Brokers, ","))
			}

			if c := cfg.Channels.IMAP; c != nil {
				fmt.Printf("IMAP:    %s@%s mailbox=%s smtp=%s\n", c.Username, c.Host, c.Mailbox, c.SMTPHost)
			} else {
				fmt.Println("IMAP:    (not configured)")
			}
			if c := cfg.Channels.Gmail; c != nil {
				fmt.Printf("Gmail:   query=%q\n", c.Query)
			} else {
				fmt.Println("Gmail:   (not configured)")
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
				return nil
			}

			if _, err := os.Stat(paths.DatabasePath(cfg.Storage)); err != nil {
				fmt.Println("\nDatabase: not created yet")
				return nil
			}
			return printActivity(context.Background(), cfg)
		},
	}

	return cmd
}

// printActivity summarizes the interaction log, the review queue and today's spend.
func printActivity(ctx context.Context, cfg config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := store.NewInteractionStore(db).Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nInteractions: %d (avg latency %.0fms, %d+%d tokens, $%.4f)\n",
		stats.Total, stats.AvgLatencyMs, stats.TokensInput, stats.TokensOutput, stats.CostUSD)
	for _, k := range sortedKeys(stats.ByOutcome) {
		fmt.Printf("  %-10s %d\n", k, stats.ByOutcome[k])
	}

	counts, err := store.NewEscalationStore(db).CountByStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Escalations:")
	for _, k := range sortedKeys(counts) {
		fmt.Printf("  %-10s %d\n", k, counts[k])
	}

	snap, err := accounting.NewLedger(store.NewSpendStore(db), cfg.Accounting.DailyBudgetUSD, log).Today(ctx)
	if err != nil {
		return err
	}
	if snap.BudgetUSD > 0 {
		fmt.Printf("Spend %s: $%.4f of $%.2f\n", snap.Day, snap.SpentUSD, snap.BudgetUSD)
	} else {
		fmt.Printf("Spend %s: $%.4f (no cap)\n", snap.Day, snap.SpentUSD)
	}
	return nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
