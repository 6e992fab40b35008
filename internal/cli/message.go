package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/helpdesk/internal/channel"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Process support messages from the command line",
	}

	cmd.AddCommand(newMessageSendCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		from     string
		fromName string
		subject  string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "send [body...]",
		Short: "Run one message through the support pipeline and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			msg, err := channel.ParseInbound(channel.Inbound{
				ID:         fmt.Sprintf("cli-%d", time.Now().UnixNano()),
				From:       from,
				FromName:   fromName,
				Subject:    subject,
				Body:       strings.Join(args, " "),
				ReceivedAt: time.Now().UTC(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if d := cfg.Agent.RunTimeout(); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.orchestrator.Process(ctx, msg)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Println(resp.Text)
			meta := fmt.Sprintf("\n[interaction=%s intent=%s tier=%s", resp.InteractionID, resp.Intent, resp.Tier)
			if resp.Escalated {
				meta += " escalated=" + string(resp.EscalationReason)
			}
			if resp.Cached {
				meta += " cached"
			}
			fmt.Fprintln(cmd.ErrOrStderr(), meta+"]")
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "sender address, optionally \"Name <addr>\"")
	cmd.Flags().StringVar(&fromName, "name", "", "sender display name")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}
