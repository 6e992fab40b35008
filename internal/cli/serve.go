package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/helpdesk/internal/channel"
	"github.com/soyeahso/helpdesk/internal/channel/gmail"
	"github.com/soyeahso/helpdesk/internal/channel/mailbox"
	"github.com/soyeahso/helpdesk/internal/gateway"
	"github.com/soyeahso/helpdesk/internal/routing"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mail channels and the operator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			channels := channel.NewRegistry(log)
			if cfg.Channels.IMAP != nil {
				channels.Register(mailbox.New(*cfg.Channels.IMAP, log))
			}
			if cfg.Channels.Gmail != nil {
				g, err := gmail.New(ctx, *cfg.Channels.Gmail, log)
				if err != nil {
					return err
				}
				channels.Register(g)
			}

			router := routing.NewRouter(a.orchestrator, channels, cfg.Server.MaxConcurrency, cfg.Agent.RunTimeout(), log)
			if channels.Count() > 0 {
				channels.OnMessage(router.Handle)
				if err := channels.StartAll(ctx); err != nil {
					return fmt.Errorf("starting channels: %w", err)
				}
				defer channels.StopAll(context.Background())
				log.Info().Strs("channels", channels.List()).Msg("message routing active")
			} else {
				log.Warn().Msg("no mail channels configured, messages arrive through the API only")
			}

			srv := gateway.New(cfg.Server, a.interactions, a.escalations, log,
				gateway.WithProcessor(router),
				gateway.WithChannels(channels),
				gateway.WithEvents(a.bus),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
