package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/store"
)

func newEscalationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "escalations",
		Aliases: []string{"esc"},
		Short:   "Review the human escalation queue",
	}

	cmd.AddCommand(newEscalationsListCmd())
	cmd.AddCommand(newEscalationsResolveCmd())
	return cmd
}

// withEscalations opens the database and hands fn the escalation store.
func withEscalations(fn func(ctx context.Context, s *store.EscalationStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), store.NewEscalationStore(db))
}

func newEscalationsListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalations, most urgent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st domain.EscalationStatus
			if status != "" {
				var ok bool
				if st, ok = domain.ParseEscalationStatus(status); !ok {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			return withEscalations(func(ctx context.Context, s *store.EscalationStore) error {
				list, err := s.List(ctx, st, limit)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No escalations.")
					return nil
				}
				for _, e := range list {
					fmt.Printf("%-36s  %-6s  %-9s  %-23s  %s  %s\n",
						e.ID, e.Priority, e.Status, e.Reason,
						e.CreatedAt.Local().Format(time.DateTime), e.Context.CustomerEmail)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, assigned, resolved, dismissed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newEscalationsResolveCmd() *cobra.Command {
	var (
		notes    string
		assignee string
		dismiss  bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve or dismiss an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.EscalationResolved
			if dismiss {
				status = domain.EscalationDismissed
			}
			upd := domain.EscalationUpdate{Status: &status}
			if notes != "" {
				upd.ResolutionNotes = &notes
			}
			if assignee != "" {
				upd.AssignedTo = &assignee
			}
			return withEscalations(func(ctx context.Context, s *store.EscalationStore) error {
				rec, err := s.Update(ctx, args[0], upd)
				if err != nil {
					return err
				}
				fmt.Printf("Escalation %s is now %s\n", rec.ID, rec.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	cmd.Flags().StringVar(&assignee, "assignee", "", "record who handled it")
	cmd.Flags().BoolVar(&dismiss, "dismiss", false, "dismiss instead of resolve")
	return cmd
}
