package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkrehbiel/activitycore/server"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

func serveCmd() *cobra.Command {
	var (
		host     string
		pubCert  string
		privCert string
		port     int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for ActivityPub requests until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.HostName = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if pubCert != "" {
				cfg.Server.Certificate = pubCert
			}
			if privCert != "" {
				cfg.Server.PrivateKey = privCert
			}

			telemetry.Log("starting activitycore")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := server.NewService(ctx, cfg)
			if err != nil {
				return err
			}
			// Startup the service to listen for http requests
			svc.Start(context.Background())

			<-ctx.Done()
			telemetry.Log("stopping activitycore")

			// Shut down the service
			shutdown, cancel := context.WithTimeout(context.Background(), time.Second*60)
			defer cancel()
			svc.Stop(shutdown)
			telemetry.Log("stopped activitycore cleanly")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "this hostname")
	cmd.Flags().StringVar(&pubCert, "cert", "", "public certificate")
	cmd.Flags().StringVar(&privCert, "key", "", "private key")
	cmd.Flags().IntVar(&port, "port", 0, "listen port")
	return cmd
}
