package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/helpdesk/internal/agent"
	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/llm"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect the classifier, router and tier models",
	}

	cmd.AddCommand(newAgentModelsCmd())
	cmd.AddCommand(newAgentClassifyCmd())
	return cmd
}

func newAgentModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show the model assigned to the classifier and each tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			registry := llm.NewRegistryFromConfig(&cfg, log)

			rows := []struct {
				name  string
				entry config.ModelEntry
			}{
				{"classifier", cfg.Models.Classifier},
				{string(domain.TierSimple), cfg.Models.Simple},
				{string(domain.TierMedium), cfg.Models.Medium},
				{string(domain.TierComplex), cfg.Models.Complex},
			}
			for _, r := range rows {
				ref := llm.Ref(r.entry)
				state := "ok"
				if _, _, err := registry.Resolve(ref); err != nil {
					state = "unavailable"
				}
				fb := ""
				if len(r.entry.Fallbacks) > 0 {
					fb = " fallbacks=" + strings.Join(r.entry.Fallbacks, ",")
				}
				fmt.Printf("  %-10s %-40s max=%d %s%s\n", r.name, ref, r.entry.MaxTokens, state, fb)
			}
			fmt.Printf("  %-10s %s\n", string(domain.TierTemplate), "(no model)")
			if cfg.Models.Embedding != "" {
				fmt.Printf("  %-10s %s dims=%d\n", "embedding", cfg.Models.Embedding, cfg.Models.EmbeddingDims)
			}
			return nil
		},
	}
}

func newAgentClassifyCmd() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Classify a message and show the tier it would be routed to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry := llm.NewRegistryFromConfig(&cfg, log)

			cm := cfg.Models.Classifier
			classifier := agent.NewClassifier(
				agent.NewFailoverClient(registry, llm.Ref(cm), cm.Fallbacks, log.With("tier", "classifier")),
				cm.MaxTokens, cm.Temperature, cfg.Agent.ClassifierTimeout(), log,
			)

			msg := domain.Message{
				From:       "cli@localhost",
				Subject:    subject,
				Body:       strings.Join(args, " "),
				ReceivedAt: time.Now().UTC(),
			}
			c := classifier.Classify(context.Background(), msg)
			ids := agent.ExtractIdentifiers(msg)
			tier, budget := agent.NewRouter(cfg.Agent).Route(c.Intent, c.Confidence, ids.HasAny())

			fmt.Printf("Intent:      %s (confidence %.2f)\n", c.Intent, c.Confidence)
			if c.Fallback {
				fmt.Printf("Fallback:    %s\n", c.Reasoning)
			} else if c.Reasoning != "" {
				fmt.Printf("Reasoning:   %s\n", c.Reasoning)
			}
			if len(ids.OrderNumbers) > 0 {
				fmt.Printf("Orders:      %s\n", strings.Join(ids.OrderNumbers, ", "))
			}
			fmt.Printf("Route:       %s (tool budget %d)\n", tier, budget)
			if c.Model != "" {
				fmt.Printf("Model:       %s (%d+%d tokens)\n", c.Model, c.Usage.InputTokens, c.Usage.OutputTokens)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	return cmd
}
